package rpc

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout     = errors.New("request timed out")
	ErrCanceled    = errors.New("request canceled")
	ErrClosed      = errors.New("correlator closed")
	ErrProtocol    = errors.New("protocol error")
	ErrEmptyAction = errors.New("action is required")
)

// RemoteError is a failure reported by the counterpart in a response.
type RemoteError struct {
	Action  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: remote error %s", e.Action, e.Code)
	}
	return fmt.Sprintf("%s: remote error %s: %s", e.Action, e.Code, e.Message)
}

// Kind classifies the outcome of a request.
type Kind int

const (
	KindOK Kind = iota
	KindTimeout
	KindCanceled
	KindClosed
	KindRemote
	KindProtocol
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindClosed:
		return "closed"
	case KindRemote:
		return "remote"
	case KindProtocol:
		return "protocol"
	}
	return "unknown"
}

// KindOf classifies err; nil is KindOK.
func KindOf(err error) Kind {
	var remote *RemoteError
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrCanceled):
		return KindCanceled
	case errors.Is(err, ErrClosed):
		return KindClosed
	case errors.As(err, &remote):
		return KindRemote
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	}
	return KindUnknown
}
