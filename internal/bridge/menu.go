package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/HsiangNianian/AMonItor/bridge/internal/listener"
	"github.com/HsiangNianian/AMonItor/bridge/internal/protocol"
	"github.com/HsiangNianian/AMonItor/bridge/internal/rpc"
)

var (
	ErrGroupMismatch   = errors.New("menu action group reply does not match submitted actions")
	ErrMissingCallback = errors.New("menu action has no callback")
)

// MenuAction is one entry of a menu action group. Callback receives the "id"
// field of the notification raised when the editor user picks the action.
type MenuAction struct {
	Label    string
	Icon     string
	Callback func(id any)
}

type MenuActionGroup struct {
	Label   string
	Icon    string
	Actions []MenuAction
}

// RegisterMenuActionGroup asks the editor to allocate one event per action and
// subscribes each callback to its event, in submission order. done receives
// the allocated event names, or an error, in which case no listener has been
// added. A reply whose length differs from the number of actions is rejected
// with ErrGroupMismatch.
func (b *Bridge) RegisterMenuActionGroup(ctx context.Context, group MenuActionGroup, done func([]protocol.EventType, error)) error {
	if done == nil {
		done = func([]protocol.EventType, error) {}
	}
	desc := protocol.MenuActionGroup{
		AppID:   b.appID,
		Label:   group.Label,
		Icon:    group.Icon,
		Actions: make([]protocol.MenuAction, len(group.Actions)),
	}
	callbacks := make([]func(id any), len(group.Actions))
	for i, a := range group.Actions {
		if a.Callback == nil {
			return fmt.Errorf("%w: %q", ErrMissingCallback, a.Label)
		}
		desc.Actions[i] = protocol.MenuAction{Label: a.Label, Icon: a.Icon}
		callbacks[i] = a.Callback
	}

	_, err := b.Request(ctx, protocol.ActionRegisterMenuActionGroup, desc, func(r rpc.Result) {
		names, err := b.bindMenuActions(r, callbacks)
		if err != nil {
			b.logger.Warn("register menu action group failed", "group", group.Label, "err", err)
			done(nil, err)
			return
		}
		b.logger.Info("menu action group registered", "group", group.Label, "actions", len(names))
		done(names, nil)
	})
	return err
}

func (b *Bridge) bindMenuActions(r rpc.Result, callbacks []func(id any)) ([]protocol.EventType, error) {
	var reply protocol.MenuActionGroupReply
	if err := r.Decode(&reply); err != nil {
		return nil, err
	}
	if len(reply.EventTypes) != len(callbacks) {
		return nil, fmt.Errorf("%w: submitted %d actions, editor returned %d names",
			ErrGroupMismatch, len(callbacks), len(reply.EventTypes))
	}
	seen := make(map[protocol.EventType]bool, len(reply.EventTypes))
	for _, name := range reply.EventTypes {
		if _, err := protocol.ParseEventType(string(name)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGroupMismatch, err)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate name %s", ErrGroupMismatch, name)
		}
		seen[name] = true
	}

	for i, name := range reply.EventTypes {
		b.listeners.Add(name, listener.New(menuActionAdapter(callbacks[i])))
	}
	return reply.EventTypes, nil
}

// menuActionAdapter forwards the "id" of the notification payload.
func menuActionAdapter(cb func(id any)) listener.Func {
	return func(args ...any) any {
		var id any
		if len(args) > 0 {
			if m, ok := args[0].(map[string]any); ok {
				id = m["id"]
			}
		}
		cb(id)
		return nil
	}
}

// UnregisterMenuActionGroup removes the listeners of a registered group.
func (b *Bridge) UnregisterMenuActionGroup(names []protocol.EventType) {
	for _, name := range names {
		b.listeners.RemoveAll(name)
	}
}
