package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/relcore/toolgate/pkg/chatmodel"
	"github.com/relcore/toolgate/pkg/gatewayerr"
)

// streamNativeNDJSON consumes the native dialect's newline-delimited JSON
// stream, emitting one StreamEvent per content delta and a terminal event
// carrying accumulated tool calls once the backend reports done=true.
func streamNativeNDJSON(ctx context.Context, body io.ReadCloser, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var calls []chatmodel.ToolCall
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var nr nativeResponse
		if err := json.Unmarshal([]byte(line), &nr); err != nil {
			events <- StreamEvent{Err: gatewayerr.New(gatewayerr.KindMalformedOutput, "backend.native", "decode stream line", err)}
			return
		}
		if nr.Message.Content != "" {
			events <- StreamEvent{ContentDelta: nr.Message.Content}
		}
		for _, tc := range nr.Message.ToolCalls {
			calls = append(calls, chatmodel.ToolCall{
				CallID:    tc.ID,
				ToolName:  tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if nr.Done {
			events <- StreamEvent{Done: true, ToolCalls: calls}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		events <- StreamEvent{Err: gatewayerr.New(gatewayerr.KindBackendProtocol, "backend.native", "read stream", err)}
		return
	}
	events <- StreamEvent{Done: true, ToolCalls: calls}
}

// toolCallAccumulator reassembles the openai-compatible dialect's
// index-keyed tool-call deltas, where a single call's name and arguments
// can arrive split across many SSE frames.
type toolCallAccumulator struct {
	order []int
	byIdx map[int]*chatmodel.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIdx: make(map[int]*chatmodel.ToolCall)}
}

func (a *toolCallAccumulator) add(index int, id, name, argsDelta string) {
	tc, ok := a.byIdx[index]
	if !ok {
		tc = &chatmodel.ToolCall{}
		a.byIdx[index] = tc
		a.order = append(a.order, index)
	}
	if id != "" {
		tc.CallID = id
	}
	if name != "" {
		tc.ToolName = name
	}
	tc.Arguments += argsDelta
}

func (a *toolCallAccumulator) result() []chatmodel.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]chatmodel.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.byIdx[idx])
	}
	return out
}

// streamOpenAICompatSSE consumes the openai-compatible dialect's
// text/event-stream response, decoding each "data: {...}" frame and
// terminating on the "data: [DONE]" sentinel.
func streamOpenAICompatSSE(ctx context.Context, body io.ReadCloser, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	acc := newToolCallAccumulator()
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			events <- StreamEvent{Done: true, ToolCalls: acc.result()}
			return
		}
		if payload == "" {
			continue
		}
		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			events <- StreamEvent{Err: gatewayerr.New(gatewayerr.KindMalformedOutput, "backend.openai-compatible", "decode SSE frame", err)}
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			events <- StreamEvent{ContentDelta: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			acc.add(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
	}
	if err := scanner.Err(); err != nil {
		events <- StreamEvent{Err: gatewayerr.New(gatewayerr.KindBackendProtocol, "backend.openai-compatible", "read stream", err)}
		return
	}
	events <- StreamEvent{Done: true, ToolCalls: acc.result()}
}
