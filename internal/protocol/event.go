package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrInvalidEventType = errors.New("invalid event type")

// EventType names an event. The vocabulary is defined by the host and is open;
// the constants below only cover the names the editor is known to send.
type EventType string

const (
	EventEditorReady           EventType = "editorReady"
	EventBeforeSave            EventType = "beforeSave"
	EventAfterSave             EventType = "afterSave"
	EventBeforeClose           EventType = "beforeClose"
	EventAfterLoad             EventType = "afterLoad"
	EventBeforeInsert          EventType = "beforeInsert"
	EventAfterInsert           EventType = "afterInsert"
	EventPluginElementSelected EventType = "pluginElementSelected"
	EventElementDeselected     EventType = "elementDeselected"
)

// ParseEventType validates a name received from outside the process.
func ParseEventType(s string) (EventType, error) {
	if s == "" || strings.ContainsFunc(s, unicode.IsSpace) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, s)
	}
	return EventType(s), nil
}

// IsVetoable reports whether handlers may deny the action behind the event.
func (t EventType) IsVetoable() bool {
	return strings.HasPrefix(string(t), "before")
}

func (t EventType) String() string { return string(t) }
