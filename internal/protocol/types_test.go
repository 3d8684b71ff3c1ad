package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseEventType(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"beforeSave", false},
		{"menuAction.3f2a", false},
		{"", true},
		{"before save", true},
		{" editorReady", true},
	}
	for _, tt := range tests {
		got, err := ParseEventType(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidEventType) {
				t.Errorf("ParseEventType(%q) err = %v, want ErrInvalidEventType", tt.in, err)
			}
			continue
		}
		if err != nil || string(got) != tt.in {
			t.Errorf("ParseEventType(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestEventTypeIsVetoable(t *testing.T) {
	if !EventBeforeSave.IsVetoable() {
		t.Error("beforeSave should be vetoable")
	}
	if EventAfterSave.IsVetoable() || EventEditorReady.IsVetoable() {
		t.Error("notification events should not be vetoable")
	}
}

func TestNewResponseKeepsCorrelation(t *testing.T) {
	req, err := NewRequest("echo", "c-1", map[string]int{"v": 1})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.TraceID = "trace"
	resp, err := NewResponse(req, map[string]int{"v": 1})
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}
	if resp.CorrelationID != "c-1" || resp.Direction != DirectionResponse || resp.TraceID != "trace" {
		t.Fatalf("unexpected response envelope: %+v", resp)
	}
	var body ResponsePayload
	if err := json.Unmarshal(resp.Payload, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(body.Result) != `{"v":1}` || body.Error != nil {
		t.Errorf("body = %s / %+v", body.Result, body.Error)
	}
}

func TestNewRequestNilPayload(t *testing.T) {
	req, err := NewRequest("getActiveEditor", "c-2", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if req.Payload != nil {
		t.Errorf("payload = %s, want absent", req.Payload)
	}
	b, _ := json.Marshal(req)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	if _, ok := m["payload"]; ok {
		t.Errorf("payload key present in %s", b)
	}
}

func TestNewErrorResponse(t *testing.T) {
	req := Envelope{Action: "save", CorrelationID: "c-3", Direction: DirectionRequest}
	resp := NewErrorResponse(req, "UNKNOWN_ACTION", "no handler")
	var body ResponsePayload
	if err := json.Unmarshal(resp.Payload, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error == nil || body.Error.Code != "UNKNOWN_ACTION" {
		t.Errorf("error detail = %+v", body.Error)
	}
}
