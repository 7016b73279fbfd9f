package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/relcore/toolgate/pkg/chatmodel"
	"github.com/relcore/toolgate/pkg/gatewayerr"
)

// nativeMessage is the wire shape of a message in the native (Ollama-style)
// dialect. Content is always a plain string in this dialect, unlike the
// openai-compatible dialect's occasional content-parts array.
type nativeMessage struct {
	Role       string             `json:"role"`
	Content    string             `json:"content"`
	ToolCalls  []nativeToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
}

type nativeToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type"`
	Function nativeToolCallFunc `json:"function"`
}

type nativeToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type nativeTool struct {
	Type     string             `json:"type"`
	Function nativeToolFunction `json:"function"`
}

type nativeToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

type nativeOptions struct {
	Temperature float64 `json:"temperature"`
}

type nativeRequest struct {
	Model      string         `json:"model"`
	Messages   []nativeMessage `json:"messages"`
	Tools      []nativeTool    `json:"tools,omitempty"`
	ToolChoice string          `json:"tool_choice,omitempty"`
	Stream     bool            `json:"stream"`
	Options    nativeOptions   `json:"options"`
}

type nativeResponse struct {
	Model     string        `json:"model"`
	Message   nativeMessage `json:"message"`
	Done      bool          `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

// nativeAdapter speaks the Ollama-style /api/chat dialect. Unlike the
// Python original, which never sent tool_choice over this dialect, this
// adapter always sends it explicitly since Go's stricter request
// construction makes an implicit default easy to lose track of across
// call sites.
type nativeAdapter struct {
	endpoint string
	model    string
	client   *retryingClient
	hook     RequestHook
}

// NewNativeAdapter builds an Adapter for the native dialect against
// endpoint (e.g. "http://localhost:11434"). hook may be nil.
func NewNativeAdapter(endpoint, model string, connectTimeout, readTimeout time.Duration, retryAttempts int, retryInitialDelay time.Duration, hook RequestHook) Adapter {
	return &nativeAdapter{
		endpoint: endpoint,
		model:    model,
		client:   newRetryingClient(newHTTPClient(connectTimeout, readTimeout), retryAttempts, retryInitialDelay),
		hook:     hook,
	}
}

func (a *nativeAdapter) Name() string { return "native" }

func toNativeMessages(msgs []chatmodel.Message) []nativeMessage {
	out := make([]nativeMessage, 0, len(msgs))
	for _, m := range msgs {
		nm := nativeMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			nm.ToolCalls = append(nm.ToolCalls, nativeToolCall{
				ID:   tc.CallID,
				Type: "function",
				Function: nativeToolCallFunc{
					Name:      tc.ToolName,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, nm)
	}
	return out
}

func toNativeTools(tools []chatmodel.ToolDescriptor) []nativeTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]nativeTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, nativeTool{
			Type: "function",
			Function: nativeToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}
	return out
}

func toolChoiceString(tc chatmodel.ToolChoice) string {
	switch tc {
	case chatmodel.ToolChoiceRequired:
		return "required"
	case chatmodel.ToolChoiceNone:
		return "none"
	default:
		return "auto"
	}
}

func (a *nativeAdapter) buildRequest(params ChatParams, stream bool) nativeRequest {
	model := a.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}
	return nativeRequest{
		Model:      model,
		Messages:   toNativeMessages(params.Messages),
		Tools:      toNativeTools(params.Tools),
		ToolChoice: toolChoiceString(params.ToolChoice),
		Stream:     stream,
		Options:    nativeOptions{Temperature: params.Temperature},
	}
}

func (a *nativeAdapter) doRequest(ctx context.Context, payload nativeRequest) (*http.Response, error) {
	if a.hook != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("backend: request hook panicked", "backend", a.Name(), "panic", r)
				}
			}()
			a.hook(a.Name(), payload)
		}()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, gatewayerr.New(gatewayerr.KindInternal, "backend.native", "marshal request", err)
	}
	resp, err := a.client.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode >= 500 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, gatewayerr.New(gatewayerr.KindBackendUnavailable, "backend.native", fmt.Sprintf("backend status %d: %s", resp.StatusCode, string(b)), nil)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, gatewayerr.New(gatewayerr.KindBackendProtocol, "backend.native", fmt.Sprintf("backend status %d: %s", resp.StatusCode, string(b)), nil)
	}
	return resp, nil
}

func (a *nativeAdapter) Chat(ctx context.Context, params ChatParams) (ChatResult, error) {
	resp, err := a.doRequest(ctx, a.buildRequest(params, false))
	if err != nil {
		return ChatResult{}, err
	}
	defer resp.Body.Close()

	var nr nativeResponse
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		return ChatResult{}, gatewayerr.New(gatewayerr.KindBackendProtocol, "backend.native", "decode response", err)
	}

	msg := chatmodel.Message{Role: chatmodel.RoleAssistant, Content: nr.Message.Content}
	for _, tc := range nr.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, chatmodel.ToolCall{
			CallID:    tc.ID,
			ToolName:  tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return ChatResult{
		Message: msg,
		Usage: chatmodel.Usage{
			PromptTokens:     nr.PromptEvalCount,
			CompletionTokens: nr.EvalCount,
			TotalTokens:      nr.PromptEvalCount + nr.EvalCount,
		},
	}, nil
}

func (a *nativeAdapter) ChatStream(ctx context.Context, params ChatParams) (<-chan StreamEvent, error) {
	resp, err := a.doRequest(ctx, a.buildRequest(params, true))
	if err != nil {
		return nil, err
	}
	events := make(chan StreamEvent)
	go streamNativeNDJSON(ctx, resp.Body, events)
	return events, nil
}

// HealthCheck distinguishes the service being absent or erroring from the
// service being reachable but not reporting the configured model as
// loaded: a 200 with an empty or non-matching tag list is not healthy.
func (a *nativeAdapter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.do(ctx, func() (*http.Request, error) { return req, nil })
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return gatewayerr.New(gatewayerr.KindBackendUnavailable, "backend.native", fmt.Sprintf("health check status %d", resp.StatusCode), nil)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return gatewayerr.New(gatewayerr.KindBackendProtocol, "backend.native", "decode health check response", err)
	}
	if len(tags.Models) == 0 {
		return gatewayerr.New(gatewayerr.KindBackendUnavailable, "backend.native", "no models loaded", nil)
	}
	if a.model == "" {
		return nil
	}
	for _, m := range tags.Models {
		if m.Name == a.model || m.Model == a.model {
			return nil
		}
	}
	return gatewayerr.New(gatewayerr.KindBackendUnavailable, "backend.native", fmt.Sprintf("model %q not loaded", a.model), nil)
}

func classifyTransportError(err error) error {
	if isConnectionError(err) {
		return gatewayerr.New(gatewayerr.KindBackendUnavailable, "backend", "connection failed", err)
	}
	return gatewayerr.New(gatewayerr.KindBackendTimeout, "backend", "request timed out", err)
}
