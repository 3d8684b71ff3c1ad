package rpc

import (
	"encoding/json"
	"fmt"
)

// Result is handed to a request callback exactly once.
type Result struct {
	Payload json.RawMessage
	Err     error
}

func (r Result) Kind() Kind { return KindOf(r.Err) }

// Decode unmarshals the payload into out, or returns the result error.
func (r Result) Decode(out any) error {
	if r.Err != nil {
		return r.Err
	}
	if out == nil || len(r.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Payload, out); err != nil {
		return fmt.Errorf("%w: decode result: %v", ErrProtocol, err)
	}
	return nil
}
