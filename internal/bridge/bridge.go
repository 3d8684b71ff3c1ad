// Package bridge is the app side of the app/editor message bridge.
//
// A Bridge owns one request correlator and one listener registry on top of a
// transport. Run drives it: inbound responses resolve pending requests,
// inbound "event" requests notify listeners and are answered with the
// aggregated allow/deny verdict. Every request callback and every listener
// runs on the goroutine that called Run.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HsiangNianian/AMonItor/bridge/internal/listener"
	"github.com/HsiangNianian/AMonItor/bridge/internal/protocol"
	"github.com/HsiangNianian/AMonItor/bridge/internal/rpc"
	"github.com/HsiangNianian/AMonItor/bridge/internal/store"
	"github.com/HsiangNianian/AMonItor/bridge/internal/transport"
)

type options struct {
	logger         *slog.Logger
	store          store.Store
	appID          string
	requestTimeout time.Duration
	dedupTTL       time.Duration
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore enables duplicate suppression of inbound events and records the
// final status of outgoing requests.
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

func WithAppID(id string) Option {
	return func(o *options) { o.appID = id }
}

// WithRequestTimeout bounds every outgoing request. Zero waits forever.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

func WithDedupTTL(d time.Duration) Option {
	return func(o *options) { o.dedupTTL = d }
}

// Handle identifies one listener registration. Either field can be used to
// remove it again.
type Handle struct {
	Slot     listener.Slot
	Listener *listener.Listener
}

type Bridge struct {
	transport transport.Transport
	rpc       *rpc.Correlator
	listeners *listener.Registry
	store     store.Store
	logger    *slog.Logger
	appID     string
	dedupTTL  time.Duration
	queue     *taskQueue
}

func New(tr transport.Transport, opts ...Option) *Bridge {
	o := options{
		logger:   slog.Default(),
		dedupTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Bridge{
		transport: tr,
		listeners: listener.NewRegistry(),
		store:     o.store,
		logger:    o.logger,
		appID:     o.appID,
		dedupTTL:  o.dedupTTL,
		queue:     newTaskQueue(),
	}
	rpcOpts := []rpc.Option{
		rpc.WithLogger(o.logger),
		rpc.WithTimeout(o.requestTimeout),
		rpc.WithExecutor(b.Post),
	}
	if o.store != nil {
		rpcOpts = append(rpcOpts, rpc.WithAckRecorder(o.store, o.dedupTTL))
	}
	b.rpc = rpc.NewCorrelator(tr, rpcOpts...)
	return b
}

// AppID is the identifier sent with menu action group registrations.
func (b *Bridge) AppID() string { return b.appID }

// Post schedules f on the event loop.
func (b *Bridge) Post(f func()) {
	b.queue.post(f)
}

// Run processes inbound envelopes and posted callbacks until ctx is done or
// the transport closes. Pending requests are failed with rpc.ErrClosed and
// their callbacks still run before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-b.transport.Receive():
			if !ok {
				return transport.ErrClosed
			}
			b.handle(ctx, env)
		case <-b.queue.ready:
			b.runTasks()
		}
	}
}

// Close closes the transport, which stops Run.
func (b *Bridge) Close() error {
	return b.transport.Close()
}

func (b *Bridge) shutdown() {
	b.rpc.Close()
	b.runTasks()
}

func (b *Bridge) runTasks() {
	for _, f := range b.queue.drain() {
		f()
	}
}

func (b *Bridge) handle(ctx context.Context, env protocol.Envelope) {
	switch env.Direction {
	case protocol.DirectionResponse:
		b.rpc.Deliver(env)
	case protocol.DirectionRequest:
		if env.Action != protocol.ActionEvent {
			b.logger.Warn("ignore unknown action", "action", env.Action, "correlation_id", env.CorrelationID)
			b.reply(ctx, protocol.NewErrorResponse(env, "UNKNOWN_ACTION", env.Action))
			return
		}
		b.handleEvent(ctx, env)
	default:
		b.logger.Warn("ignore envelope without direction", "action", env.Action, "correlation_id", env.CorrelationID)
	}
}

func (b *Bridge) handleEvent(ctx context.Context, env protocol.Envelope) {
	if b.store != nil && env.CorrelationID != "" {
		cached, seen, err := b.store.Processed(ctx, env.CorrelationID)
		if err != nil {
			b.logger.Warn("check processed failed", "correlation_id", env.CorrelationID, "err", err)
		}
		if seen {
			b.logger.Info("answer duplicate event from cache", "correlation_id", env.CorrelationID)
			resp, _ := protocol.NewResponse(env, json.RawMessage(cached))
			b.reply(ctx, resp)
			return
		}
	}

	var payload protocol.EventPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		b.reply(ctx, protocol.NewErrorResponse(env, "BAD_EVENT", err.Error()))
		return
	}
	eventType, err := protocol.ParseEventType(string(payload.Type))
	if err != nil {
		b.reply(ctx, protocol.NewErrorResponse(env, "BAD_EVENT", err.Error()))
		return
	}

	allow := b.listeners.Notify(eventType, eventData(payload))
	b.logger.Debug("notify event", "event", eventType, "correlation_id", env.CorrelationID, "allow", allow)

	result, _ := json.Marshal(protocol.EventReply{Allow: allow})
	if b.store != nil && env.CorrelationID != "" {
		if err := b.store.MarkProcessed(ctx, env.CorrelationID, string(result), b.dedupTTL); err != nil {
			b.logger.Warn("mark processed failed", "correlation_id", env.CorrelationID, "err", err)
		}
	}
	resp, _ := protocol.NewResponse(env, json.RawMessage(result))
	b.reply(ctx, resp)
}

// eventData decodes the notification into what listeners receive: the
// decoded Data, or a listener.Positional when the host sent Args.
func eventData(p protocol.EventPayload) any {
	if p.Args != nil {
		args := make([]any, len(p.Args))
		for i, raw := range p.Args {
			args[i] = decodeAny(raw)
		}
		return listener.Positional{Args: args}
	}
	return decodeAny(p.Data)
}

func decodeAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func (b *Bridge) reply(ctx context.Context, env protocol.Envelope) {
	if err := b.transport.Send(ctx, env); err != nil && !errors.Is(err, transport.ErrClosed) {
		b.logger.Warn("send reply failed", "action", env.Action, "correlation_id", env.CorrelationID, "err", err)
	}
}

// Request sends a call to the editor; cb runs on the event loop.
func (b *Bridge) Request(ctx context.Context, action string, payload any, cb func(rpc.Result)) (string, error) {
	return b.rpc.Request(ctx, action, payload, cb)
}

// Call blocks until the editor answers. Do not use it from a listener or a
// request callback: those run on the loop that delivers the answer.
func (b *Bridge) Call(ctx context.Context, action string, payload, out any) error {
	if err := b.rpc.Call(ctx, action, payload, out); err != nil {
		return fmt.Errorf("call %s: %w", action, err)
	}
	return nil
}

// Cancel abandons a pending request.
func (b *Bridge) Cancel(correlationID string) bool {
	return b.rpc.Cancel(correlationID)
}

func (b *Bridge) Pending() int {
	return b.rpc.Pending()
}

func (b *Bridge) AddListener(t protocol.EventType, fn listener.Func) Handle {
	slot, l := b.listeners.AddFunc(t, fn)
	return Handle{Slot: slot, Listener: l}
}

func (b *Bridge) AddListeners(fns map[protocol.EventType]listener.Func) map[protocol.EventType]Handle {
	handles := make(map[protocol.EventType]Handle, len(fns))
	for t, fn := range fns {
		handles[t] = b.AddListener(t, fn)
	}
	return handles
}

func (b *Bridge) RemoveListener(t protocol.EventType, slot listener.Slot) {
	b.listeners.Remove(t, slot)
}

func (b *Bridge) RemoveListenerFunc(t protocol.EventType, l *listener.Listener) bool {
	return b.listeners.RemoveListener(t, l)
}

// RemoveAllListeners clears the given event types, or every listener when
// called without arguments.
func (b *Bridge) RemoveAllListeners(types ...protocol.EventType) {
	if len(types) == 0 {
		b.listeners.Clear()
		return
	}
	for _, t := range types {
		b.listeners.RemoveAll(t)
	}
}

// ListenerCount returns the number of active listeners of t.
func (b *Bridge) ListenerCount(t protocol.EventType) int {
	return b.listeners.Len(t)
}
