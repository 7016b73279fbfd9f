// Package tool implements a static tool registry: a fixed,
// build-time-known name-to-callable map, with no dynamic multi-source
// (local/MCP) discovery. This gateway has no runtime tool discovery, so
// the simpler shape suffices.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relcore/toolgate/pkg/chatmodel"
	"github.com/relcore/toolgate/pkg/gatewayerr"
)

// Result is what a Tool returns, trimmed to the fields this gateway's
// orchestrator actually threads back into a tool message.
type Result struct {
	Content string
	Err     error
}

// Tool is one callable entry in the registry. Execute receives the already
// JSON-decoded arguments; the registry owns decoding the raw wire string
// (chatmodel.ToolCall.Arguments) into the map passed here.
type Tool interface {
	Descriptor() chatmodel.ToolDescriptor
	Execute(ctx context.Context, args map[string]any) Result
}

// Registry is the fixed name-to-Tool map built once at startup and never
// mutated afterward.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a Registry from tools. A later duplicate name
// overwrites an earlier one's registration but keeps its position in List.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool by its descriptor name.
func (r *Registry) Register(t Tool) {
	name := t.Descriptor().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// List returns every tool's descriptor, in registration order, for use as
// the backend call's Tools parameter.
func (r *Registry) List() []chatmodel.ToolDescriptor {
	out := make([]chatmodel.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor())
	}
	return out
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Execute decodes call.Arguments and dispatches to the named tool. A
// lookup miss and an argument-decode failure both come back as
// gatewayerr-wrapped errors so the orchestrator can classify them into a
// synthesized tool-error message rather than aborting the loop.
func (r *Registry) Execute(ctx context.Context, call chatmodel.ToolCall) Result {
	t, ok := r.Get(call.ToolName)
	if !ok {
		return Result{Err: gatewayerr.New(gatewayerr.KindToolNotFound, "tool.registry", fmt.Sprintf("unknown tool %q", call.ToolName), nil)}
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return Result{Err: gatewayerr.New(gatewayerr.KindToolInvocation, "tool.registry", fmt.Sprintf("invalid arguments for %q", call.ToolName), err)}
		}
	}
	return t.Execute(ctx, args)
}
