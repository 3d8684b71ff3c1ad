package protocol

import (
	"encoding/json"
	"time"
)

type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// Envelope is the unit carried by a transport between the app and the editor.
type Envelope struct {
	Action        string          `json:"action"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	Direction     Direction       `json:"direction"`
	TraceID       string          `json:"trace_id,omitempty"`
	Timestamp     int64           `json:"timestamp"`
}

// Action names understood by both sides.
const (
	ActionEvent                   = "event"
	ActionRegisterMenuActionGroup = "registerMenuActionGroup"
)

// ResponsePayload is the body of every response envelope.
type ResponsePayload struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorDetail    `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// EventPayload is sent by the host as the payload of an "event" request.
// A non-nil Args selects positional invocation on the app side.
type EventPayload struct {
	Type EventType         `json:"type"`
	Data json.RawMessage   `json:"data,omitempty"`
	Args []json.RawMessage `json:"args"`
}

type EventReply struct {
	Allow bool `json:"allow"`
}

type MenuAction struct {
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
}

type MenuActionGroup struct {
	AppID   string       `json:"app_id"`
	Label   string       `json:"label"`
	Icon    string       `json:"icon,omitempty"`
	Actions []MenuAction `json:"actions"`
}

type MenuActionGroupReply struct {
	EventTypes []EventType `json:"event_types"`
}

// NewRequest builds a request envelope. A nil payload is sent as absent.
func NewRequest(action, correlationID string, payload any) (Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Action:        action,
		Payload:       raw,
		CorrelationID: correlationID,
		Direction:     DirectionRequest,
		Timestamp:     time.Now().UnixMilli(),
	}, nil
}

// NewResponse answers req with result.
func NewResponse(req Envelope, result any) (Envelope, error) {
	raw, err := marshalPayload(result)
	if err != nil {
		return Envelope{}, err
	}
	return respond(req, ResponsePayload{Result: raw}), nil
}

// NewErrorResponse answers req with a failure.
func NewErrorResponse(req Envelope, code, message string) Envelope {
	return respond(req, ResponsePayload{Error: &ErrorDetail{Code: code, Message: message}})
}

func respond(req Envelope, body ResponsePayload) Envelope {
	return Envelope{
		Action:        req.Action,
		Payload:       mustJSON(body),
		CorrelationID: req.CorrelationID,
		Direction:     DirectionResponse,
		TraceID:       req.TraceID,
		Timestamp:     time.Now().UnixMilli(),
	}
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(p) == 0 {
			return nil, nil
		}
		return p, nil
	}
	return json.Marshal(v)
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
