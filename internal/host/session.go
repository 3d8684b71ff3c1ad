// Package host is the editor side of the bridge. It answers the calls an app
// makes, allocates menu action events and sends events to apps, collecting
// their allow/deny verdicts.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HsiangNianian/AMonItor/bridge/internal/protocol"
	"github.com/HsiangNianian/AMonItor/bridge/internal/rpc"
	"github.com/HsiangNianian/AMonItor/bridge/internal/store"
	"github.com/HsiangNianian/AMonItor/bridge/internal/transport"
)

// MenuActionPrefix starts every event name allocated for a menu action.
const MenuActionPrefix = "menuAction."

// HandlerFunc answers one app call. The returned value becomes the response
// result; an error becomes an error response.
type HandlerFunc func(ctx context.Context, s *Session, payload json.RawMessage) (any, error)

// HandlerError lets a handler choose the error code sent to the app.
type HandlerError struct {
	Code    string
	Message string
}

func (e *HandlerError) Error() string { return e.Code + ": " + e.Message }

// Handlers maps action names to handlers. It is shared by every session of a
// server. The menu action group registration is built in.
type Handlers struct {
	mu sync.RWMutex
	m  map[string]HandlerFunc
}

func NewHandlers() *Handlers {
	h := &Handlers{m: make(map[string]HandlerFunc)}
	h.Handle(protocol.ActionRegisterMenuActionGroup, registerMenuActionGroup)
	return h
}

func (h *Handlers) Handle(action string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m[action] = fn
}

func (h *Handlers) lookup(action string) (HandlerFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.m[action]
	return fn, ok
}

type SessionOption func(*Session)

func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithEventTimeout bounds how long Emit waits for an app's verdict.
func WithEventTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.eventTimeout = d }
}

// Session is one connected app.
type Session struct {
	id           string
	appID        string
	transport    transport.Transport
	rpc          *rpc.Correlator
	handlers     *Handlers
	store        store.Store
	logger       *slog.Logger
	eventTimeout time.Duration

	mu     sync.Mutex
	groups []protocol.EventType
}

func NewSession(tr transport.Transport, appID string, handlers *Handlers, st store.Store, opts ...SessionOption) *Session {
	s := &Session{
		id:        uuid.NewString(),
		appID:     appID,
		transport: tr,
		handlers:  handlers,
		store:     st,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.appID == "" {
		s.appID = s.id
	}
	s.logger = s.logger.With("app_id", s.appID, "session_id", s.id)
	rpcOpts := []rpc.Option{rpc.WithLogger(s.logger), rpc.WithTimeout(s.eventTimeout)}
	if st != nil {
		rpcOpts = append(rpcOpts, rpc.WithAckRecorder(st, 24*time.Hour))
	}
	s.rpc = rpc.NewCorrelator(tr, rpcOpts...)
	return s
}

func (s *Session) ID() string    { return s.id }
func (s *Session) AppID() string { return s.appID }

// MenuEvents returns the events allocated for this session's menu groups.
func (s *Session) MenuEvents() []protocol.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.EventType(nil), s.groups...)
}

// Serve reads envelopes until ctx is done or the transport closes. On return
// pending events fail and the session's menu events are released.
func (s *Session) Serve(ctx context.Context) error {
	defer s.release()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-s.transport.Receive():
			if !ok {
				return transport.ErrClosed
			}
			switch env.Direction {
			case protocol.DirectionResponse:
				s.rpc.Deliver(env)
			case protocol.DirectionRequest:
				s.handleRequest(ctx, env)
			default:
				s.logger.Warn("ignore envelope without direction", "action", env.Action, "correlation_id", env.CorrelationID)
			}
		}
	}
}

func (s *Session) release() {
	s.rpc.Close()
	if s.store == nil {
		return
	}
	for _, name := range s.MenuEvents() {
		if err := s.store.DeleteGroupOwner(context.Background(), string(name)); err != nil {
			s.logger.Warn("release menu event failed", "event", name, "err", err)
		}
	}
}

func (s *Session) handleRequest(ctx context.Context, env protocol.Envelope) {
	if env.CorrelationID == "" {
		s.logger.Warn("ignore request without correlation_id", "action", env.Action)
		return
	}
	if s.store != nil {
		if cached, seen, err := s.store.Processed(ctx, s.processedKey(env)); err == nil && seen {
			s.logger.Info("answer duplicate request from cache", "action", env.Action, "correlation_id", env.CorrelationID)
			resp, _ := protocol.NewResponse(env, json.RawMessage(cached))
			s.reply(ctx, resp)
			return
		}
	}

	fn, ok := s.handlers.lookup(env.Action)
	if !ok {
		s.logger.Warn("unknown action", "action", env.Action, "correlation_id", env.CorrelationID)
		s.reply(ctx, protocol.NewErrorResponse(env, "UNKNOWN_ACTION", env.Action))
		return
	}

	result, err := fn(ctx, s, env.Payload)
	if err != nil {
		s.logger.Warn("handle action failed", "action", env.Action, "correlation_id", env.CorrelationID, "err", err)
		var herr *HandlerError
		if errors.As(err, &herr) {
			s.reply(ctx, protocol.NewErrorResponse(env, herr.Code, herr.Message))
		} else {
			s.reply(ctx, protocol.NewErrorResponse(env, "ACTION_FAILED", err.Error()))
		}
		return
	}

	resp, err := protocol.NewResponse(env, result)
	if err != nil {
		s.reply(ctx, protocol.NewErrorResponse(env, "ACTION_FAILED", err.Error()))
		return
	}
	if s.store != nil {
		var body protocol.ResponsePayload
		_ = json.Unmarshal(resp.Payload, &body)
		if err := s.store.MarkProcessed(ctx, s.processedKey(env), string(body.Result), 24*time.Hour); err != nil {
			s.logger.Warn("mark processed failed", "correlation_id", env.CorrelationID, "err", err)
		}
	}
	s.reply(ctx, resp)
}

// processedKey scopes correlation ids to the app, since ids are only unique
// per origin.
func (s *Session) processedKey(env protocol.Envelope) string {
	return s.appID + ":" + env.CorrelationID
}

func (s *Session) reply(ctx context.Context, env protocol.Envelope) {
	if err := s.transport.Send(ctx, env); err != nil {
		s.logger.Warn("send reply failed", "action", env.Action, "correlation_id", env.CorrelationID, "err", err)
	}
}

// Emit sends an event with data as its single argument and returns whether
// the app allowed it. It must not be called from a HandlerFunc, which runs on
// the goroutine that reads the verdict.
func (s *Session) Emit(ctx context.Context, t protocol.EventType, data any) (bool, error) {
	payload := protocol.EventPayload{Type: t}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return false, fmt.Errorf("encode %s data: %w", t, err)
		}
		payload.Data = raw
	}
	return s.emit(ctx, payload)
}

// EmitPositional sends an event whose listeners receive args spread as
// separate arguments.
func (s *Session) EmitPositional(ctx context.Context, t protocol.EventType, args ...any) (bool, error) {
	payload := protocol.EventPayload{Type: t, Args: make([]json.RawMessage, len(args))}
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return false, fmt.Errorf("encode %s arg %d: %w", t, i, err)
		}
		payload.Args[i] = raw
	}
	return s.emit(ctx, payload)
}

func (s *Session) emit(ctx context.Context, payload protocol.EventPayload) (bool, error) {
	var reply protocol.EventReply
	if err := s.rpc.Call(ctx, protocol.ActionEvent, payload, &reply); err != nil {
		return false, fmt.Errorf("emit %s to %s: %w", payload.Type, s.appID, err)
	}
	s.logger.Debug("event answered", "event", payload.Type, "allow", reply.Allow)
	return reply.Allow, nil
}

// registerMenuActionGroup allocates one event name per submitted action, in
// submission order.
func registerMenuActionGroup(ctx context.Context, s *Session, payload json.RawMessage) (any, error) {
	var group protocol.MenuActionGroup
	if err := json.Unmarshal(payload, &group); err != nil {
		return nil, &HandlerError{Code: "BAD_GROUP", Message: err.Error()}
	}

	names := make([]protocol.EventType, len(group.Actions))
	for i := range group.Actions {
		names[i] = protocol.EventType(MenuActionPrefix + uuid.NewString())
	}
	if s.store != nil {
		for _, name := range names {
			if err := s.store.SetGroupOwner(ctx, string(name), s.appID); err != nil {
				return nil, fmt.Errorf("record menu event owner: %w", err)
			}
		}
	}

	s.mu.Lock()
	s.groups = append(s.groups, names...)
	s.mu.Unlock()

	s.logger.Info("menu action group allocated", "group", group.Label, "actions", len(names))
	return protocol.MenuActionGroupReply{EventTypes: names}, nil
}
