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

// openaiMessage is the wire shape of a message in the openai-compatible
// dialect.
type openaiMessage struct {
	Role       string              `json:"role"`
	Content    string              `json:"content"`
	ToolCalls  []openaiToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	Index    int                 `json:"index"`
	ID       string              `json:"id,omitempty"`
	Type     string              `json:"type,omitempty"`
	Function openaiToolCallFunc  `json:"function"`
}

type openaiToolCallFunc struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiResponse struct {
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiStreamDelta struct {
	Content   string           `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamChunk struct {
	Model   string               `json:"model"`
	Choices []openaiStreamChoice `json:"choices"`
}

// openaiCompatAdapter speaks the LM-Studio-style /chat/completions dialect.
type openaiCompatAdapter struct {
	endpoint string
	model    string
	client   *retryingClient
	hook     RequestHook
}

// NewOpenAICompatAdapter builds an Adapter for the openai-compatible
// dialect against endpoint (e.g. "http://localhost:1234/v1"). hook may be
// nil.
func NewOpenAICompatAdapter(endpoint, model string, connectTimeout, readTimeout time.Duration, retryAttempts int, retryInitialDelay time.Duration, hook RequestHook) Adapter {
	return &openaiCompatAdapter{
		endpoint: endpoint,
		model:    model,
		client:   newRetryingClient(newHTTPClient(connectTimeout, readTimeout), retryAttempts, retryInitialDelay),
		hook:     hook,
	}
}

func (a *openaiCompatAdapter) Name() string { return "openai-compatible" }

func toOpenAIMessages(msgs []chatmodel.Message) []openaiMessage {
	out := make([]openaiMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openaiMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for i, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openaiToolCall{
				Index: i,
				ID:    tc.CallID,
				Type:  "function",
				Function: openaiToolCallFunc{
					Name:      tc.ToolName,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(tools []chatmodel.ToolDescriptor) []openaiTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openaiTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openaiTool{
			Type: "function",
			Function: openaiToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}
	return out
}

func (a *openaiCompatAdapter) buildRequest(params ChatParams, stream bool) openaiRequest {
	model := a.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}
	return openaiRequest{
		Model:       model,
		Messages:    toOpenAIMessages(params.Messages),
		Tools:       toOpenAITools(params.Tools),
		ToolChoice:  toolChoiceString(params.ToolChoice),
		Temperature: params.Temperature,
		Stream:      stream,
	}
}

func (a *openaiCompatAdapter) doRequest(ctx context.Context, payload openaiRequest) (*http.Response, error) {
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
		return nil, gatewayerr.New(gatewayerr.KindInternal, "backend.openai-compatible", "marshal request", err)
	}
	resp, err := a.client.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if payload.Stream {
			req.Header.Set("Accept", "text/event-stream")
		}
		return req, nil
	})
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode >= 500 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, gatewayerr.New(gatewayerr.KindBackendUnavailable, "backend.openai-compatible", fmt.Sprintf("backend status %d: %s", resp.StatusCode, string(b)), nil)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, gatewayerr.New(gatewayerr.KindBackendProtocol, "backend.openai-compatible", fmt.Sprintf("backend status %d: %s", resp.StatusCode, string(b)), nil)
	}
	return resp, nil
}

func (a *openaiCompatAdapter) Chat(ctx context.Context, params ChatParams) (ChatResult, error) {
	resp, err := a.doRequest(ctx, a.buildRequest(params, false))
	if err != nil {
		return ChatResult{}, err
	}
	defer resp.Body.Close()

	var or openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return ChatResult{}, gatewayerr.New(gatewayerr.KindBackendProtocol, "backend.openai-compatible", "decode response", err)
	}
	if len(or.Choices) == 0 {
		return ChatResult{}, gatewayerr.New(gatewayerr.KindBackendProtocol, "backend.openai-compatible", "response had no choices", nil)
	}

	choice := or.Choices[0]
	msg := chatmodel.Message{Role: chatmodel.RoleAssistant, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, chatmodel.ToolCall{
			CallID:    tc.ID,
			ToolName:  tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return ChatResult{
		Message: msg,
		Usage: chatmodel.Usage{
			PromptTokens:     or.Usage.PromptTokens,
			CompletionTokens: or.Usage.CompletionTokens,
			TotalTokens:      or.Usage.TotalTokens,
		},
	}, nil
}

func (a *openaiCompatAdapter) ChatStream(ctx context.Context, params ChatParams) (<-chan StreamEvent, error) {
	resp, err := a.doRequest(ctx, a.buildRequest(params, true))
	if err != nil {
		return nil, err
	}
	events := make(chan StreamEvent)
	go streamOpenAICompatSSE(ctx, resp.Body, events)
	return events, nil
}

// HealthCheck distinguishes the service being absent or erroring from the
// service being reachable but reporting no loaded model: a 200 with an
// empty or non-matching model list is not healthy.
func (a *openaiCompatAdapter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"/models", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.do(ctx, func() (*http.Request, error) { return req, nil })
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return gatewayerr.New(gatewayerr.KindBackendUnavailable, "backend.openai-compatible", fmt.Sprintf("health check status %d", resp.StatusCode), nil)
	}

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return gatewayerr.New(gatewayerr.KindBackendProtocol, "backend.openai-compatible", "decode health check response", err)
	}
	if len(list.Data) == 0 {
		return gatewayerr.New(gatewayerr.KindBackendUnavailable, "backend.openai-compatible", "no models loaded", nil)
	}
	if a.model == "" {
		return nil
	}
	for _, m := range list.Data {
		if m.ID == a.model {
			return nil
		}
	}
	return gatewayerr.New(gatewayerr.KindBackendUnavailable, "backend.openai-compatible", fmt.Sprintf("model %q not loaded", a.model), nil)
}
