package tool

import (
	"context"

	"github.com/relcore/toolgate/pkg/chatmodel"
)

// echoArgs is reflected into the tool's JSON Schema via schemaFor.
type echoArgs struct {
	Text string `json:"text" jsonschema:"required,description=Text to echo back verbatim."`
}

// EchoTool is a diagnostic built-in that returns its input unchanged,
// useful for exercising the tool-calling loop without a backend dependency.
type EchoTool struct{}

func NewEchoTool() *EchoTool { return &EchoTool{} }

func (t *EchoTool) Descriptor() chatmodel.ToolDescriptor {
	return chatmodel.ToolDescriptor{
		Name:        "echo",
		Description: "Echo the given text back unchanged. Useful for testing tool invocation.",
		Schema:      schemaFor(echoArgs{}),
	}
}

func (t *EchoTool) Execute(ctx context.Context, args map[string]any) Result {
	text, _ := args["text"].(string)
	return Result{Content: text}
}
