// Package backend speaks both inference-backend wire dialects (native and
// openai-compatible) behind one Adapter interface, so the orchestrator
// never sees a dialect-specific payload.
package backend

import (
	"context"

	"github.com/relcore/toolgate/pkg/chatmodel"
)

// ChatParams is one backend call's parameters. ModelOverride, when
// non-empty, replaces the adapter's configured model for this call only;
// it is never written back to shared state.
type ChatParams struct {
	Messages       []chatmodel.Message
	Tools          []chatmodel.ToolDescriptor
	Temperature    float64
	ToolChoice     chatmodel.ToolChoice
	ModelOverride  string
}

// ChatResult is the adapter's normalized, dialect-independent response to a
// non-streaming chat call.
type ChatResult struct {
	Message chatmodel.Message
	Usage   chatmodel.Usage
}

// StreamEvent is one unit produced while consuming a streaming response.
// Exactly one of ContentDelta or (at the end) ToolCalls/Done is meaningful.
type StreamEvent struct {
	ContentDelta string
	ToolCalls    []chatmodel.ToolCall // populated only on the terminal event
	Done         bool
	Err          error
}

// RequestHook observes the outgoing payload immediately before
// transmission. It must never panic into the adapter; Adapter
// implementations recover and log if it does.
type RequestHook func(backendName string, outgoingPayload any)

// Adapter is the uniform surface over both wire dialects.
type Adapter interface {
	// Chat performs one non-streaming backend call.
	Chat(ctx context.Context, params ChatParams) (ChatResult, error)

	// ChatStream performs one streaming backend call, emitting events on
	// the returned channel until the stream terminates or ctx is canceled.
	ChatStream(ctx context.Context, params ChatParams) (<-chan StreamEvent, error)

	// HealthCheck probes the backend's listing endpoint.
	HealthCheck(ctx context.Context) error

	// Name identifies the dialect for logging/hooks ("native" or
	// "openai-compatible").
	Name() string
}
