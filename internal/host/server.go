package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HsiangNianian/AMonItor/bridge/internal/protocol"
	"github.com/HsiangNianian/AMonItor/bridge/internal/store"
	"github.com/HsiangNianian/AMonItor/bridge/internal/transport"
)

var ErrNoSession = errors.New("no session for app")

// Server accepts app connections over websocket and keeps one Session per
// connection.
type Server struct {
	store        store.Store
	authToken    string
	handlers     *Handlers
	logger       *slog.Logger
	eventTimeout time.Duration

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func WithServerEventTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.eventTimeout = d }
}

func NewServer(st store.Store, authToken string, opts ...ServerOption) *Server {
	s := &Server{
		store:     st,
		authToken: authToken,
		handlers:  NewHandlers(),
		logger:    slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers the handler for an app call.
func (s *Server) Handle(action string, fn HandlerFunc) {
	s.handlers.Handle(action, fn)
}

// Mux serves apps on appPath, the emit endpoint on appPath+"/emit" and a
// health check on /healthz.
func (s *Server) Mux(appPath string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(appPath, s.HandleApp)
	mux.HandleFunc(appPath+"/emit", s.HandleEmit)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) authorized(r *http.Request) bool {
	return s.authToken == "" || r.Header.Get("Authorization") == "Bearer "+s.authToken
}

// HandleApp upgrades the request and serves the app until it disconnects.
// The app identifies itself with the app_id query parameter.
func (s *Server) HandleApp(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Warn("app unauthorized", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	tr, err := transport.Accept(w, r, &s.upgrader, s.logger)
	if err != nil {
		s.logger.Error("upgrade app ws failed", "err", err)
		return
	}
	defer tr.Close()

	sess := NewSession(tr, r.URL.Query().Get("app_id"), s.handlers, s.store,
		WithSessionLogger(s.logger), WithEventTimeout(s.eventTimeout))

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	s.logger.Info("app connected", "remote", r.RemoteAddr, "app_id", sess.AppID(), "active_apps", count)

	err = sess.Serve(r.Context())

	s.mu.Lock()
	delete(s.sessions, sess.ID())
	count = len(s.sessions)
	s.mu.Unlock()
	s.logger.Info("app disconnected", "app_id", sess.AppID(), "active_apps", count, "err", err)
}

// Sessions returns the connected sessions.
func (s *Server) Sessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Server) sessionForApp(appID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.AppID() == appID {
			return sess, true
		}
	}
	return nil, false
}

// Broadcast emits an event to every connected app. The event is allowed only
// if every app that answered allowed it; failed apps are reported in the
// returned error and do not count as a veto.
func (s *Server) Broadcast(ctx context.Context, t protocol.EventType, data any) (bool, error) {
	sessions := s.Sessions()
	s.logger.Info("broadcast event", "event", t, "apps", len(sessions))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		allow = true
		errs  []error
	)
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			ok, err := sess.Emit(ctx, t, data)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if !ok {
				allow = false
			}
		}(sess)
	}
	wg.Wait()
	return allow, errors.Join(errs...)
}

// EmitMenuAction raises the event of a menu action on the app that owns it,
// passing id to the action callback, and returns the app's verdict.
func (s *Server) EmitMenuAction(ctx context.Context, t protocol.EventType, id any) (bool, error) {
	if s.store == nil {
		return false, fmt.Errorf("%w: event %s", ErrNoSession, t)
	}
	owner, err := s.store.GetGroupOwner(ctx, string(t))
	if err != nil {
		return false, fmt.Errorf("lookup owner of %s: %w", t, err)
	}
	sess, ok := s.sessionForApp(owner)
	if owner == "" || !ok {
		return false, fmt.Errorf("%w: event %s owner %q", ErrNoSession, t, owner)
	}
	return sess.Emit(ctx, t, map[string]any{"id": id})
}

// EmitRequest is the body accepted by HandleEmit. A menuAction event is
// routed to its owner; anything else is broadcast.
type EmitRequest struct {
	Type protocol.EventType `json:"type"`
	Data json.RawMessage    `json:"data,omitempty"`
	ID   any                `json:"id,omitempty"`
}

type EmitResponse struct {
	Allow bool   `json:"allow"`
	Error string `json:"error,omitempty"`
}

func (s *Server) HandleEmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req EmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := protocol.ParseEventType(string(req.Type))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resp EmitResponse
	if isMenuEvent(t) {
		resp.Allow, err = s.EmitMenuAction(r.Context(), t, req.ID)
	} else {
		var data any
		if len(req.Data) > 0 {
			data = req.Data
		}
		resp.Allow, err = s.Broadcast(r.Context(), t, data)
	}
	if err != nil {
		resp.Error = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func isMenuEvent(t protocol.EventType) bool {
	return strings.HasPrefix(string(t), MenuActionPrefix)
}
