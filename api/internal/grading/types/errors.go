package types

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse: the model answered without any text payload.
var ErrEmptyResponse = errors.New("grading: empty response")

// DecodeError: the returned text is not JSON of the expected shape.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("grading: bad JSON: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// TransportError wraps whatever the engine's client returned when the call
// could not complete (network, auth, quota). No retry is attempted.
type TransportError struct {
	Engine string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("grading: %s transport: %v", e.Engine, e.Err)
}
func (e *TransportError) Unwrap() error { return e.Err }

// Error kinds as exposed by the HTTP API.
const (
	KindEmptyResponse = "empty_response"
	KindDecode        = "decode_error"
	KindTransport     = "transport_error"
	KindUnknown       = "unknown"
)

// Kind classifies err into one of the grading error kinds.
func Kind(err error) string {
	var de *DecodeError
	var te *TransportError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyResponse):
		return KindEmptyResponse
	case errors.As(err, &de):
		return KindDecode
	case errors.As(err, &te):
		return KindTransport
	default:
		return KindUnknown
	}
}
