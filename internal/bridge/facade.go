package bridge

import (
	"context"

	"github.com/HsiangNianian/AMonItor/bridge/internal/rpc"
)

// Editor calls. Each one is a plain Request with a fixed action name.
const (
	ActionGetActiveEditor     = "getActiveEditor"
	ActionGetEditorContent    = "getEditorContent"
	ActionSetEditorContent    = "setEditorContent"
	ActionInsertContent       = "insertContent"
	ActionGetSelectedElement  = "getSelectedElement"
	ActionSetElementStyle     = "setElementStyle"
	ActionSetElementAttribute = "setElementAttribute"
	ActionShowNotification    = "showNotification"
	ActionOpenDialog          = "openDialog"
	ActionCloseDialog         = "closeDialog"
	ActionSave                = "save"
	ActionGetAppConfig        = "getAppConfig"
)

type ContentPayload struct {
	Content string `json:"content"`
}

type ElementStylePayload struct {
	ElementID string            `json:"element_id"`
	Style     map[string]string `json:"style"`
}

type ElementAttributePayload struct {
	ElementID string `json:"element_id"`
	Name      string `json:"name"`
	Value     string `json:"value"`
}

type Notification struct {
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

type Dialog struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

func (b *Bridge) send(ctx context.Context, action string, payload any, cb func(rpc.Result)) error {
	_, err := b.Request(ctx, action, payload, cb)
	return err
}

func (b *Bridge) GetActiveEditor(ctx context.Context, cb func(rpc.Result)) error {
	return b.send(ctx, ActionGetActiveEditor, nil, cb)
}

func (b *Bridge) GetEditorContent(ctx context.Context, cb func(rpc.Result)) error {
	return b.send(ctx, ActionGetEditorContent, nil, cb)
}

func (b *Bridge) SetEditorContent(ctx context.Context, content string, cb func(rpc.Result)) error {
	return b.send(ctx, ActionSetEditorContent, ContentPayload{Content: content}, cb)
}

func (b *Bridge) InsertContent(ctx context.Context, content string, cb func(rpc.Result)) error {
	return b.send(ctx, ActionInsertContent, ContentPayload{Content: content}, cb)
}

func (b *Bridge) GetSelectedElement(ctx context.Context, cb func(rpc.Result)) error {
	return b.send(ctx, ActionGetSelectedElement, nil, cb)
}

func (b *Bridge) SetElementStyle(ctx context.Context, elementID string, style map[string]string, cb func(rpc.Result)) error {
	return b.send(ctx, ActionSetElementStyle, ElementStylePayload{ElementID: elementID, Style: style}, cb)
}

func (b *Bridge) SetElementAttribute(ctx context.Context, elementID, name, value string, cb func(rpc.Result)) error {
	return b.send(ctx, ActionSetElementAttribute, ElementAttributePayload{ElementID: elementID, Name: name, Value: value}, cb)
}

func (b *Bridge) ShowNotification(ctx context.Context, n Notification, cb func(rpc.Result)) error {
	return b.send(ctx, ActionShowNotification, n, cb)
}

func (b *Bridge) OpenDialog(ctx context.Context, d Dialog, cb func(rpc.Result)) error {
	return b.send(ctx, ActionOpenDialog, d, cb)
}

func (b *Bridge) CloseDialog(ctx context.Context, cb func(rpc.Result)) error {
	return b.send(ctx, ActionCloseDialog, nil, cb)
}

func (b *Bridge) Save(ctx context.Context, cb func(rpc.Result)) error {
	return b.send(ctx, ActionSave, nil, cb)
}

func (b *Bridge) GetAppConfig(ctx context.Context, cb func(rpc.Result)) error {
	return b.send(ctx, ActionGetAppConfig, map[string]string{"app_id": b.appID}, cb)
}
