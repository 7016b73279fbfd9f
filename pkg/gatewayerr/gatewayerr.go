// Package gatewayerr defines the gateway's error taxonomy. Every error
// that crosses a trust boundary (backend adapter, tool dispatch, RAG
// index, request surface) is represented as a *Error so the request
// surface can switch on Kind to decide an HTTP status or synthesize a
// completion, instead of pattern-matching on error strings.
package gatewayerr

import "fmt"

// Kind classifies an error for the purposes of the gateway's propagation
// policy: which Kinds map to which HTTP status, and which get surfaced
// to the model as a synthesized tool-error message instead.
type Kind string

const (
	KindBadRequest         Kind = "bad_request"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindBackendTimeout     Kind = "backend_timeout"
	KindBackendProtocol    Kind = "backend_protocol_error"
	KindToolNotFound       Kind = "tool_not_found"
	KindToolInvocation     Kind = "tool_invocation_error"
	KindToolLoopExhausted  Kind = "tool_loop_exhausted"
	KindMalformedOutput    Kind = "malformed_model_output"
	KindIndexCorruption    Kind = "index_corruption"
	KindInternal           Kind = "internal"
)

// Error is the gateway's uniform error shape, grounded on the tool
// registry's component/action/message/err structure.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged error at a given component boundary.
func New(kind Kind, component, message string, err error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Err: err}
}

// Is reports whether err (or something it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	var ge *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			ge = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ge != nil && ge.Kind == k
}
