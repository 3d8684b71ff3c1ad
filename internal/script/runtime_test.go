package script

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/HsiangNianian/AMonItor/bridge/internal/bridge"
	"github.com/HsiangNianian/AMonItor/bridge/internal/host"
	"github.com/HsiangNianian/AMonItor/bridge/internal/protocol"
	"github.com/HsiangNianian/AMonItor/bridge/internal/transport"
)

func setup(t *testing.T) (*Runtime, *bridge.Bridge, *host.Session) {
	t.Helper()
	handlers := host.NewHandlers()
	handlers.Handle("echo", func(_ context.Context, _ *host.Session, p json.RawMessage) (any, error) {
		return p, nil
	})

	app, editor := transport.Pipe(16)
	b := bridge.New(app, bridge.WithAppID("lua-app"))
	sess := host.NewSession(editor, "lua-app", handlers, nil, host.WithEventTimeout(2*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	bridgeDone := make(chan struct{})
	sessDone := make(chan struct{})
	go func() { _ = b.Run(ctx); close(bridgeDone) }()
	go func() { _ = sess.Serve(ctx); close(sessDone) }()

	r := New(ctx, b, nil)
	t.Cleanup(func() {
		cancel()
		<-bridgeDone
		<-sessDone
		r.Close()
		_ = app.Close()
	})
	return r, b, sess
}

func exec(t *testing.T, r *Runtime, src string) {
	t.Helper()
	if err := r.Exec(context.Background(), src, "test"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
}

func waitGlobal(t *testing.T, r *Runtime, name string, want any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := r.Global(context.Background(), name)
		if err != nil {
			t.Fatalf("Global(%s): %v", name, err)
		}
		if got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s = %#v, want %#v", name, got, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScriptListenerVetoes(t *testing.T) {
	r, _, sess := setup(t)
	exec(t, r, `
		bridge.on("beforeSave", function(doc)
			return not doc.dirty
		end)
	`)

	allow, err := sess.Emit(context.Background(), protocol.EventBeforeSave, map[string]any{"dirty": true})
	if err != nil || allow {
		t.Errorf("dirty save = %v, %v; want denied", allow, err)
	}
	allow, err = sess.Emit(context.Background(), protocol.EventBeforeSave, map[string]any{"dirty": false})
	if err != nil || !allow {
		t.Errorf("clean save = %v, %v; want allowed", allow, err)
	}
}

func TestScriptRequest(t *testing.T) {
	r, _, _ := setup(t)
	exec(t, r, `
		bridge.request("echo", {n = 3, word = "hi"}, function(res, err)
			echoed = res.n
			word = res.word
			failed = err
		end)
	`)
	waitGlobal(t, r, "echoed", int64(3))
	waitGlobal(t, r, "word", "hi")
	waitGlobal(t, r, "failed", nil)

	exec(t, r, `
		bridge.request("missing", nil, function(res, err)
			missing_err = err ~= nil
		end)
	`)
	waitGlobal(t, r, "missing_err", true)
}

func TestScriptMenuGroup(t *testing.T) {
	r, _, sess := setup(t)
	exec(t, r, `
		bridge.register_menu({
			label = "Tools",
			actions = {
				{label = "Count", fn = function(id) clicked = id end},
			},
		}, function(names, err)
			registered = #names
		end)
	`)
	waitGlobal(t, r, "registered", int64(1))

	events := sess.MenuEvents()
	if len(events) != 1 {
		t.Fatalf("menu events = %v", events)
	}
	if _, err := sess.Emit(context.Background(), events[0], map[string]any{"id": "doc-7"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	waitGlobal(t, r, "clicked", "doc-7")
}

func TestScriptOffRemovesListener(t *testing.T) {
	r, b, sess := setup(t)
	exec(t, r, `
		slot = bridge.on("afterSave", function() hits = (hits or 0) + 1 end)
		bridge.on("afterLoad", function() end)
		bridge.off("afterSave", slot)
	`)
	if _, err := sess.Emit(context.Background(), protocol.EventAfterSave, nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	waitGlobal(t, r, "hits", nil)

	exec(t, r, `bridge.off_all()`)
	if n := b.ListenerCount(protocol.EventAfterLoad); n != 0 {
		t.Errorf("afterLoad listeners = %d after off_all", n)
	}
}

func TestScriptSandboxAndErrors(t *testing.T) {
	r, _, _ := setup(t)
	exec(t, r, `
		sandboxed = dofile == nil and load == nil and loadfile == nil
		id = bridge.app_id
	`)
	waitGlobal(t, r, "sandboxed", true)
	waitGlobal(t, r, "id", "lua-app")

	if err := r.Exec(context.Background(), "this is not lua", "bad"); err == nil {
		t.Error("syntax error not reported")
	}
	if err := r.Exec(context.Background(), `error("boom")`, "boom"); err == nil {
		t.Error("runtime error not reported")
	}
	if err := r.Exec(context.Background(), `bridge.on("has space", function() end)`, "arg"); err == nil {
		t.Error("invalid event type accepted")
	}
}

func TestCloseAfterLoopStops(t *testing.T) {
	app, _ := transport.Pipe(4)
	b := bridge.New(app)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = b.Run(ctx); close(done) }()

	r := New(ctx, b, nil)
	exec(t, r, `x = 1`)
	cancel()
	<-done

	r.Close()
	if !r.L.IsClosed() {
		t.Error("Lua state still open after Close")
	}
	r.Close()
}
