package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HsiangNianian/AMonItor/bridge/internal/protocol"
)

func recvOne(t *testing.T, tr Transport) protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-tr.Receive():
		if !ok {
			t.Fatal("receive channel closed")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return protocol.Envelope{}
}

func TestPipeOrderAndClose(t *testing.T) {
	a, b := Pipe(8)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		if err := a.Send(ctx, protocol.Envelope{CorrelationID: id}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for _, want := range []string{"1", "2", "3"} {
		if got := recvOne(t, b).CorrelationID; got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	}

	if err := b.Send(ctx, protocol.Envelope{CorrelationID: "back"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := recvOne(t, a).CorrelationID; got != "back" {
		t.Errorf("got %s, want back", got)
	}

	_ = a.Close()
	if err := b.Send(ctx, protocol.Envelope{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after close err = %v, want ErrClosed", err)
	}
	if _, ok := <-b.Receive(); ok {
		t.Error("receive channel still open after close")
	}
	_ = b.Close()
}

func TestPipeSendHonorsContext(t *testing.T) {
	a, _ := Pipe(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := a.Send(ctx, protocol.Envelope{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	upgrader := &websocket.Upgrader{}
	accepted := make(chan *WebSocket, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := Accept(w, r, upgrader, nil)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		accepted <- ws
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, err := Dial(context.Background(), url, "wrong", nil); err == nil {
		t.Fatal("Dial with a bad token succeeded")
	}

	client, err := Dial(context.Background(), url, "secret", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	server := <-accepted
	defer server.Close()

	req, _ := protocol.NewRequest("echo", "c-1", map[string]int{"v": 1})
	if err := client.Send(context.Background(), req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := recvOne(t, server)
	if got.CorrelationID != "c-1" || got.Action != "echo" || string(got.Payload) != `{"v":1}` {
		t.Fatalf("server got %+v", got)
	}

	resp, _ := protocol.NewResponse(got, map[string]int{"v": 1})
	if err := server.Send(context.Background(), resp); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if back := recvOne(t, client); back.Direction != protocol.DirectionResponse || back.CorrelationID != "c-1" {
		t.Errorf("client got %+v", back)
	}

	_ = client.Close()
	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe disconnect")
	}
	if err := client.Send(context.Background(), req); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close err = %v, want ErrClosed", err)
	}
}
