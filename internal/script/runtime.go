// Package script runs an app written in Lua on top of a bridge.
//
// The Lua state is only touched from the bridge event loop: scripts are
// executed through Bridge.Post, and listener and request callbacks already
// run there. A Runtime must therefore be used with a Bridge whose Run loop is
// active.
package script

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/HsiangNianian/AMonItor/bridge/internal/bridge"
	"github.com/HsiangNianian/AMonItor/bridge/internal/listener"
	"github.com/HsiangNianian/AMonItor/bridge/internal/protocol"
	"github.com/HsiangNianian/AMonItor/bridge/internal/rpc"
)

// ModuleName is the global under which the bridge API is exposed to scripts.
const ModuleName = "bridge"

type Runtime struct {
	ctx    context.Context
	b      *bridge.Bridge
	L      *lua.LState
	logger *slog.Logger

	closeOnce sync.Once
}

// New creates a sandboxed Lua state with the bridge module installed. ctx
// bounds the requests scripts make.
func New(ctx context.Context, b *bridge.Bridge, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}

	r := &Runtime{ctx: ctx, b: b, L: L, logger: logger.With("component", "script")}
	r.register()
	return r
}

func (r *Runtime) register() {
	mod := r.L.NewTable()
	r.L.SetFuncs(mod, map[string]lua.LGFunction{
		"request":       r.request,
		"on":            r.on,
		"off":           r.off,
		"off_all":       r.offAll,
		"register_menu": r.registerMenu,
		"log":           r.log,
	})
	r.L.SetField(mod, "app_id", lua.LString(r.b.AppID()))
	r.L.SetGlobal(ModuleName, mod)
}

// Exec runs src on the bridge loop and waits for it to finish.
func (r *Runtime) Exec(ctx context.Context, src, name string) error {
	return r.onLoop(ctx, func() error {
		fn, err := r.L.Load(strings.NewReader(src), name)
		if err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		r.L.Push(fn)
		if err := r.L.PCall(0, 0, nil); err != nil {
			return fmt.Errorf("run %s: %w", name, err)
		}
		return nil
	})
}

func (r *Runtime) ExecFile(ctx context.Context, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	return r.Exec(ctx, string(src), path)
}

// Global reads a global variable, converted to Go.
func (r *Runtime) Global(ctx context.Context, name string) (any, error) {
	var v any
	err := r.onLoop(ctx, func() error {
		v = toGo(r.L.GetGlobal(name))
		return nil
	})
	return v, err
}

// Close releases the Lua state. Call it once the bridge Run loop has
// returned; callbacks still queued on the bridge must not run afterwards.
func (r *Runtime) Close() {
	r.closeOnce.Do(r.L.Close)
}

func (r *Runtime) onLoop(ctx context.Context, f func() error) error {
	done := make(chan error, 1)
	r.b.Post(func() { done <- f() })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call invokes a Lua function and returns its first result.
func (r *Runtime) call(fn *lua.LFunction, args ...lua.LValue) (lua.LValue, error) {
	if err := r.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return lua.LNil, err
	}
	ret := r.L.Get(-1)
	r.L.Pop(1)
	return ret, nil
}

// request(action, payload, fn) -> correlation id
// fn receives (result, err).
func (r *Runtime) request(L *lua.LState) int {
	action := L.CheckString(1)
	payload := toGo(L.Get(2))
	fn := L.OptFunction(3, nil)

	id, err := r.b.Request(r.ctx, action, payload, func(res rpc.Result) {
		if fn == nil {
			return
		}
		var v any
		errVal := lua.LValue(lua.LNil)
		if err := res.Decode(&v); err != nil {
			errVal = lua.LString(err.Error())
		}
		if _, err := r.call(fn, toLua(r.L, v), errVal); err != nil {
			r.logger.Warn("request callback failed", "action", action, "err", err)
		}
	})
	if err != nil {
		L.RaiseError("request %s: %v", action, err)
		return 0
	}
	L.Push(lua.LString(id))
	return 1
}

func (r *Runtime) checkEventType(L *lua.LState, n int) protocol.EventType {
	t, err := protocol.ParseEventType(L.CheckString(n))
	if err != nil {
		L.ArgError(n, err.Error())
	}
	return t
}

// on(event, fn) -> slot
// Returning false from fn vetoes the event.
func (r *Runtime) on(L *lua.LState) int {
	t := r.checkEventType(L, 1)
	fn := L.CheckFunction(2)

	h := r.b.AddListener(t, func(args ...any) any {
		lv := make([]lua.LValue, len(args))
		for i, a := range args {
			lv[i] = toLua(r.L, a)
		}
		ret, err := r.call(fn, lv...)
		if err != nil {
			r.logger.Warn("listener failed", "event", t, "err", err)
			return nil
		}
		if ret == lua.LFalse {
			return false
		}
		return nil
	})
	L.Push(lua.LNumber(h.Slot))
	return 1
}

// off(event, slot)
func (r *Runtime) off(L *lua.LState) int {
	t := r.checkEventType(L, 1)
	r.b.RemoveListener(t, listener.Slot(L.CheckInt(2)))
	return 0
}

// off_all([event])
func (r *Runtime) offAll(L *lua.LState) int {
	if L.GetTop() == 0 {
		r.b.RemoveAllListeners()
		return 0
	}
	r.b.RemoveAllListeners(r.checkEventType(L, 1))
	return 0
}

// register_menu({label=, icon=, actions={{label=, icon=, fn=}}}, done)
// done receives (names, err).
func (r *Runtime) registerMenu(L *lua.LState) int {
	tbl := L.CheckTable(1)
	done := L.OptFunction(2, nil)

	group := bridge.MenuActionGroup{
		Label: lua.LVAsString(tbl.RawGetString("label")),
		Icon:  lua.LVAsString(tbl.RawGetString("icon")),
	}
	actions, ok := tbl.RawGetString("actions").(*lua.LTable)
	if !ok {
		L.ArgError(1, "actions must be a table")
		return 0
	}
	for i := 1; i <= actions.Len(); i++ {
		a, ok := actions.RawGetInt(i).(*lua.LTable)
		if !ok {
			L.ArgError(1, fmt.Sprintf("action %d must be a table", i))
			return 0
		}
		fn, ok := a.RawGetString("fn").(*lua.LFunction)
		if !ok {
			L.ArgError(1, fmt.Sprintf("action %d has no fn", i))
			return 0
		}
		label := lua.LVAsString(a.RawGetString("label"))
		group.Actions = append(group.Actions, bridge.MenuAction{
			Label: label,
			Icon:  lua.LVAsString(a.RawGetString("icon")),
			Callback: func(id any) {
				if _, err := r.call(fn, toLua(r.L, id)); err != nil {
					r.logger.Warn("menu action failed", "action", label, "err", err)
				}
			},
		})
	}

	err := r.b.RegisterMenuActionGroup(r.ctx, group, func(names []protocol.EventType, err error) {
		if done == nil {
			return
		}
		var cbErr error
		if err != nil {
			_, cbErr = r.call(done, lua.LNil, lua.LString(err.Error()))
		} else {
			list := r.L.NewTable()
			for _, n := range names {
				list.Append(lua.LString(n))
			}
			_, cbErr = r.call(done, list, lua.LNil)
		}
		if cbErr != nil {
			r.logger.Warn("menu registration callback failed", "group", group.Label, "err", cbErr)
		}
	})
	if err != nil {
		L.RaiseError("register_menu: %v", err)
	}
	return 0
}

// log(msg)
func (r *Runtime) log(L *lua.LState) int {
	r.logger.Info(L.CheckString(1))
	return 0
}
