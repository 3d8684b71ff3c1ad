// Package rpc turns one-way envelopes into calls with callbacks.
//
// A Correlator tags each outgoing request with a correlation id, keeps the
// callback until the response carrying the same id arrives, and then calls it
// exactly once. Responses are matched by id only, never by arrival order.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HsiangNianian/AMonItor/bridge/internal/protocol"
)

// Sender puts an envelope on the wire.
type Sender interface {
	Send(ctx context.Context, env protocol.Envelope) error
}

// Executor runs a callback. The bridge uses it to move callbacks onto its
// event loop goroutine.
type Executor func(func())

// AckRecorder stores the final status of a request.
type AckRecorder interface {
	SetAckStatus(ctx context.Context, msgID, status string, ttl time.Duration) error
}

type Option func(*Correlator)

// WithTimeout bounds every request. Zero means wait forever.
func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) { c.timeout = d }
}

func WithExecutor(exec Executor) Option {
	return func(c *Correlator) { c.exec = exec }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Correlator) { c.logger = logger }
}

func WithAckRecorder(acks AckRecorder, ttl time.Duration) Option {
	return func(c *Correlator) {
		c.acks = acks
		c.ackTTL = ttl
	}
}

// WithIDGenerator replaces uuid.NewString, mainly for tests.
func WithIDGenerator(gen func() string) Option {
	return func(c *Correlator) { c.newID = gen }
}

type pending struct {
	action  string
	cb      func(Result)
	direct  bool
	timer   *time.Timer
	stopCtx func() bool
}

func (p *pending) stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
	if p.stopCtx != nil {
		p.stopCtx()
	}
}

type Correlator struct {
	sender  Sender
	logger  *slog.Logger
	timeout time.Duration
	exec    Executor
	acks    AckRecorder
	ackTTL  time.Duration
	newID   func() string

	mu      sync.Mutex
	pending map[string]*pending
	closed  bool
}

func NewCorrelator(sender Sender, opts ...Option) *Correlator {
	c := &Correlator{
		sender:  sender,
		logger:  slog.Default(),
		newID:   uuid.NewString,
		ackTTL:  24 * time.Hour,
		pending: make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request sends action with payload and returns without waiting. cb receives
// the response, or a timeout/cancel/close error, exactly once. If the send
// itself fails the error is returned and cb is never called.
func (c *Correlator) Request(ctx context.Context, action string, payload any, cb func(Result)) (string, error) {
	return c.request(ctx, action, payload, cb, false)
}

// Call is the blocking form of Request. It must not be used from a callback
// running on the executor, since the response is delivered by the same loop.
func (c *Correlator) Call(ctx context.Context, action string, payload, out any) error {
	done := make(chan Result, 1)
	if _, err := c.request(ctx, action, payload, func(r Result) { done <- r }, true); err != nil {
		return err
	}
	return (<-done).Decode(out)
}

func (c *Correlator) request(ctx context.Context, action string, payload any, cb func(Result), direct bool) (string, error) {
	if action == "" {
		return "", ErrEmptyAction
	}
	if cb == nil {
		cb = func(Result) {}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	id := c.newID()
	for _, inUse := c.pending[id]; inUse; _, inUse = c.pending[id] {
		id = c.newID()
	}
	env, err := protocol.NewRequest(action, id, payload)
	if err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("encode %s payload: %w", action, err)
	}
	p := &pending{action: action, cb: cb, direct: direct}
	c.pending[id] = p
	if c.timeout > 0 {
		p.timer = time.AfterFunc(c.timeout, func() {
			c.resolve(id, Result{Err: fmt.Errorf("%s after %s: %w", action, c.timeout, ErrTimeout)})
		})
	}
	p.stopCtx = context.AfterFunc(ctx, func() {
		c.resolve(id, Result{Err: fmt.Errorf("%s: %w: %v", action, ErrCanceled, context.Cause(ctx))})
	})
	c.mu.Unlock()

	c.logger.Debug("send request", "action", action, "correlation_id", id)
	if err := c.sender.Send(ctx, env); err != nil {
		c.mu.Lock()
		if cur, ok := c.pending[id]; ok && cur == p {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		p.stop()
		return "", fmt.Errorf("send %s: %w", action, err)
	}
	return id, nil
}

// Deliver routes a response envelope to its pending request. It reports
// whether a pending request was resolved; unknown and repeated ids are
// dropped.
func (c *Correlator) Deliver(env protocol.Envelope) bool {
	if env.Direction != protocol.DirectionResponse {
		c.logger.Warn("ignore non-response envelope", "action", env.Action, "correlation_id", env.CorrelationID, "direction", env.Direction)
		return false
	}

	var res Result
	var body protocol.ResponsePayload
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		res.Err = fmt.Errorf("%w: %s response: %v", ErrProtocol, env.Action, err)
	} else if body.Error != nil {
		res.Err = &RemoteError{Action: env.Action, Code: body.Error.Code, Message: body.Error.Message}
	} else {
		res.Payload = body.Result
	}

	if !c.resolve(env.CorrelationID, res) {
		c.logger.Warn("drop unmatched response", "action", env.Action, "correlation_id", env.CorrelationID)
		return false
	}
	return true
}

// Cancel abandons a pending request; its callback receives ErrCanceled.
func (c *Correlator) Cancel(id string) bool {
	return c.resolve(id, Result{Err: ErrCanceled})
}

// Close fails every pending request with ErrClosed and rejects new ones.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.closed = true
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.resolve(id, Result{Err: ErrClosed})
	}
}

// Pending returns the number of in-flight requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) resolve(id string, res Result) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.stop()

	kind := res.Kind()
	c.logger.Debug("resolve request", "action", p.action, "correlation_id", id, "result", kind)
	if c.acks != nil {
		status := "done"
		if kind != KindOK {
			status = kind.String()
		}
		if err := c.acks.SetAckStatus(context.Background(), id, status, c.ackTTL); err != nil {
			c.logger.Warn("record ack status failed", "correlation_id", id, "err", err)
		}
	}

	if p.direct || c.exec == nil {
		p.cb(res)
	} else {
		c.exec(func() { p.cb(res) })
	}
	return true
}
