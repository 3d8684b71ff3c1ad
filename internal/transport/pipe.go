package transport

import (
	"context"
	"sync"

	"github.com/HsiangNianian/AMonItor/bridge/internal/protocol"
)

// pipeState is shared by both ends of a pipe.
type pipeState struct {
	mu     sync.RWMutex
	once   sync.Once
	closed chan struct{}
	ends   [2]chan protocol.Envelope
}

type pipeEnd struct {
	state *pipeState
	in    chan protocol.Envelope
	out   chan protocol.Envelope
}

// Pipe returns two connected in-process transports. Closing either end
// closes both; envelopes already buffered are still delivered.
func Pipe(buffer int) (Transport, Transport) {
	s := &pipeState{closed: make(chan struct{})}
	s.ends[0] = make(chan protocol.Envelope, buffer)
	s.ends[1] = make(chan protocol.Envelope, buffer)
	return &pipeEnd{state: s, in: s.ends[0], out: s.ends[1]},
		&pipeEnd{state: s, in: s.ends[1], out: s.ends[0]}
}

func (p *pipeEnd) Send(ctx context.Context, env protocol.Envelope) error {
	p.state.mu.RLock()
	defer p.state.mu.RUnlock()
	select {
	case <-p.state.closed:
		return ErrClosed
	default:
	}
	select {
	case p.out <- env:
		return nil
	case <-p.state.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive() <-chan protocol.Envelope {
	return p.in
}

func (p *pipeEnd) Close() error {
	s := p.state
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		defer s.mu.Unlock()
		close(s.ends[0])
		close(s.ends[1])
	})
	return nil
}
