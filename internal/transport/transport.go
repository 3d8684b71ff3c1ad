// Package transport carries envelopes between the app and the editor.
//
// Implementations deliver envelopes in order per direction and make no
// promise across directions. Receive is closed when the peer goes away.
package transport

import (
	"context"
	"errors"

	"github.com/HsiangNianian/AMonItor/bridge/internal/protocol"
)

var ErrClosed = errors.New("transport closed")

type Transport interface {
	Send(ctx context.Context, env protocol.Envelope) error
	Receive() <-chan protocol.Envelope
	Close() error
}
