package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HsiangNianian/AMonItor/bridge/internal/protocol"
)

// WebSocket carries JSON envelopes over a gorilla websocket connection.
type WebSocket struct {
	conn   *websocket.Conn
	logger *slog.Logger
	name   string

	writeMu sync.Mutex
	recv    chan protocol.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocket wraps an established connection and starts its read loop.
// name identifies the peer in log lines.
func NewWebSocket(conn *websocket.Conn, name string, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	ws := &WebSocket{
		conn:   conn,
		logger: logger,
		name:   name,
		recv:   make(chan protocol.Envelope, 64),
		closed: make(chan struct{}),
	}
	go ws.readLoop()
	return ws
}

// Dial connects to a websocket endpoint, sending token as a bearer
// Authorization header when set.
func Dial(ctx context.Context, url, token string, logger *slog.Logger) (*WebSocket, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocket(conn, url, logger), nil
}

// Accept upgrades an HTTP request to a websocket transport.
func Accept(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, logger *slog.Logger) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade ws: %w", err)
	}
	return NewWebSocket(conn, r.RemoteAddr, logger), nil
}

func (ws *WebSocket) Send(ctx context.Context, env protocol.Envelope) error {
	select {
	case <-ws.closed:
		return ErrClosed
	default:
	}
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.conn.SetWriteDeadline(deadline)
		defer ws.conn.SetWriteDeadline(time.Time{})
	}
	if err := ws.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	ws.logger.Debug("send envelope", "peer", ws.name, "action", env.Action, "correlation_id", env.CorrelationID, "direction", env.Direction)
	return nil
}

func (ws *WebSocket) Receive() <-chan protocol.Envelope {
	return ws.recv
}

// Done is closed once the connection has been closed by either side.
func (ws *WebSocket) Done() <-chan struct{} {
	return ws.closed
}

func (ws *WebSocket) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.closed)
		ws.writeMu.Lock()
		_ = ws.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ws.writeMu.Unlock()
		err = ws.conn.Close()
	})
	return err
}

func (ws *WebSocket) readLoop() {
	defer func() {
		close(ws.recv)
		_ = ws.Close()
		ws.logger.Info("peer disconnected", "peer", ws.name)
	}()

	for {
		var env protocol.Envelope
		if err := ws.conn.ReadJSON(&env); err != nil {
			select {
			case <-ws.closed:
			default:
				ws.logger.Info("read envelope failed", "peer", ws.name, "err", err)
			}
			return
		}
		ws.logger.Debug("recv envelope", "peer", ws.name, "action", env.Action, "correlation_id", env.CorrelationID, "direction", env.Direction)
		select {
		case ws.recv <- env:
		case <-ws.closed:
			return
		}
	}
}
