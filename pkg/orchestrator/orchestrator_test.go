package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relcore/toolgate/pkg/backend"
	"github.com/relcore/toolgate/pkg/chatmodel"
	"github.com/relcore/toolgate/pkg/promptcache"
	"github.com/relcore/toolgate/pkg/tool"
)

// fakeAdapter scripts a sequence of Chat responses, one per call, and
// mirrors them as single-event ChatStream responses for the streaming
// tests.
type fakeAdapter struct {
	responses  []backend.ChatResult
	errs       []error
	calls      int
	name       string
	lastParams backend.ChatParams
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) next() (backend.ChatResult, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		return backend.ChatResult{Message: chatmodel.Message{Role: chatmodel.RoleAssistant, Content: "fallback"}}, nil
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.responses[i], err
}

func (f *fakeAdapter) Chat(ctx context.Context, params backend.ChatParams) (backend.ChatResult, error) {
	f.lastParams = params
	return f.next()
}

func (f *fakeAdapter) ChatStream(ctx context.Context, params backend.ChatParams) (<-chan backend.StreamEvent, error) {
	f.lastParams = params
	result, err := f.next()
	if err != nil {
		return nil, err
	}
	ch := make(chan backend.StreamEvent, 2)
	ch <- backend.StreamEvent{ContentDelta: result.Message.Content}
	ch <- backend.StreamEvent{Done: true, ToolCalls: result.Message.ToolCalls}
	close(ch)
	return ch, nil
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) error { return nil }

func baseCfg() Config {
	return Config{
		MaxToolIterations:        5,
		ToolLoopTimeout:          10 * time.Second,
		FirstIterationToolChoice: chatmodel.ToolChoiceAuto,
		MaxToolResultChars:       4000,
		DefaultTemperature:       0.0,
	}
}

func TestRun_NoToolCallsExitsImmediately(t *testing.T) {
	adapter := &fakeAdapter{name: "test", responses: []backend.ChatResult{
		{Message: chatmodel.Message{Role: chatmodel.RoleAssistant, Content: "hello"}},
	}}
	reg := tool.NewRegistry(tool.NewEchoTool())
	o := New(adapter, reg, nil, nil, nil, baseCfg())

	completion, err := o.Run(context.Background(), chatmodel.ChatRequest{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Len(t, completion.Choices, 1)
	assert.Equal(t, "hello", completion.Choices[0].Message.Content)
	assert.Equal(t, chatmodel.FinishStop, completion.Choices[0].FinishReason)
	assert.Equal(t, 1, adapter.calls)
}

func TestRun_DispatchesToolCallThenSynthesizes(t *testing.T) {
	adapter := &fakeAdapter{name: "test", responses: []backend.ChatResult{
		{Message: chatmodel.Message{
			Role: chatmodel.RoleAssistant,
			ToolCalls: []chatmodel.ToolCall{
				{CallID: "call-1", ToolName: "echo", Arguments: `{"text":"pong"}`},
			},
		}},
		{Message: chatmodel.Message{Role: chatmodel.RoleAssistant, Content: "the tool said pong"}},
	}}
	reg := tool.NewRegistry(tool.NewEchoTool())
	o := New(adapter, reg, nil, nil, nil, baseCfg())

	completion, err := o.Run(context.Background(), chatmodel.ChatRequest{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "ping"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "the tool said pong", completion.Choices[0].Message.Content)
	assert.Equal(t, 2, adapter.calls)
}

func TestRun_UnknownToolProducesErrorMessageNotCrash(t *testing.T) {
	adapter := &fakeAdapter{name: "test", responses: []backend.ChatResult{
		{Message: chatmodel.Message{
			Role: chatmodel.RoleAssistant,
			ToolCalls: []chatmodel.ToolCall{
				{CallID: "call-1", ToolName: "nonexistent", Arguments: `{}`},
			},
		}},
		{Message: chatmodel.Message{Role: chatmodel.RoleAssistant, Content: "handled the error"}},
	}}
	reg := tool.NewRegistry(tool.NewEchoTool())
	o := New(adapter, reg, nil, nil, nil, baseCfg())

	completion, err := o.Run(context.Background(), chatmodel.ChatRequest{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "go"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "handled the error", completion.Choices[0].Message.Content)
}

func TestRun_ExhaustsIterationsAndSynthesizes(t *testing.T) {
	loopingToolCall := chatmodel.Message{
		Role: chatmodel.RoleAssistant,
		ToolCalls: []chatmodel.ToolCall{
			{CallID: "call-1", ToolName: "echo", Arguments: `{"text":"again"}`},
		},
	}
	adapter := &fakeAdapter{name: "test", responses: []backend.ChatResult{
		{Message: loopingToolCall},
		{Message: loopingToolCall},
		{Message: chatmodel.Message{Role: chatmodel.RoleAssistant, Content: "final answer after exhaustion"}},
	}}
	reg := tool.NewRegistry(tool.NewEchoTool())
	cfg := baseCfg()
	cfg.MaxToolIterations = 2
	o := New(adapter, reg, nil, nil, nil, cfg)

	completion, err := o.Run(context.Background(), chatmodel.ChatRequest{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "loop"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "final answer after exhaustion", completion.Choices[0].Message.Content)
}

func TestRun_InjectsSystemPromptWhenRequestHasNone(t *testing.T) {
	adapter := &fakeAdapter{name: "test", responses: []backend.ChatResult{
		{Message: chatmodel.Message{Role: chatmodel.RoleAssistant, Content: "hello"}},
	}}
	reg := tool.NewRegistry(tool.NewEchoTool())
	prompts := promptcache.New("", "you are a helpful assistant")
	o := New(adapter, reg, prompts, nil, nil, baseCfg())

	_, err := o.Run(context.Background(), chatmodel.ChatRequest{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, adapter.lastParams.Messages)
	assert.Equal(t, chatmodel.RoleSystem, adapter.lastParams.Messages[0].Role)
	assert.Equal(t, "you are a helpful assistant", adapter.lastParams.Messages[0].Content)
	assert.Equal(t, chatmodel.RoleUser, adapter.lastParams.Messages[1].Role)
}

func TestRun_DoesNotStackSystemPromptWhenRequestAlreadyHasOne(t *testing.T) {
	adapter := &fakeAdapter{name: "test", responses: []backend.ChatResult{
		{Message: chatmodel.Message{Role: chatmodel.RoleAssistant, Content: "hello"}},
	}}
	reg := tool.NewRegistry(tool.NewEchoTool())
	prompts := promptcache.New("", "you are a helpful assistant")
	o := New(adapter, reg, prompts, nil, nil, baseCfg())

	_, err := o.Run(context.Background(), chatmodel.ChatRequest{
		Messages: []chatmodel.Message{
			{Role: chatmodel.RoleSystem, Content: "custom prompt"},
			{Role: chatmodel.RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	require.Len(t, adapter.lastParams.Messages, 2)
	assert.Equal(t, "custom prompt", adapter.lastParams.Messages[0].Content)
}

func TestRunStream_InjectsSystemPromptWhenRequestHasNone(t *testing.T) {
	adapter := &fakeAdapter{name: "test", responses: []backend.ChatResult{
		{Message: chatmodel.Message{Role: chatmodel.RoleAssistant, Content: "streamed hello"}},
	}}
	reg := tool.NewRegistry(tool.NewEchoTool())
	prompts := promptcache.New("", "you are a helpful assistant")
	o := New(adapter, reg, prompts, nil, nil, baseCfg())

	chunks, err := o.RunStream(context.Background(), chatmodel.ChatRequest{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	for range chunks {
	}
	require.NotEmpty(t, adapter.lastParams.Messages)
	assert.Equal(t, chatmodel.RoleSystem, adapter.lastParams.Messages[0].Role)
	assert.Equal(t, "you are a helpful assistant", adapter.lastParams.Messages[0].Content)
}

func TestRun_BackendErrorReturnsApology(t *testing.T) {
	adapter := &fakeAdapter{name: "test",
		responses: []backend.ChatResult{{}},
		errs:      []error{assertErr{}},
	}
	reg := tool.NewRegistry(tool.NewEchoTool())
	o := New(adapter, reg, nil, nil, nil, baseCfg())

	completion, err := o.Run(context.Background(), chatmodel.ChatRequest{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, apologyText, completion.Choices[0].Message.Content)
	assert.Equal(t, chatmodel.FinishError, completion.Choices[0].FinishReason)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestRunStream_NoToolCallsEmitsContentThenStop(t *testing.T) {
	adapter := &fakeAdapter{name: "test", responses: []backend.ChatResult{
		{Message: chatmodel.Message{Role: chatmodel.RoleAssistant, Content: "streamed hello"}},
	}}
	reg := tool.NewRegistry(tool.NewEchoTool())
	o := New(adapter, reg, nil, nil, nil, baseCfg())

	chunks, err := o.RunStream(context.Background(), chatmodel.ChatRequest{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var all []chatmodel.Chunk
	for c := range chunks {
		all = append(all, c)
	}
	require.Len(t, all, 2)
	assert.Equal(t, "streamed hello", all[0].Choices[0].Delta.Content)
	require.NotNil(t, all[1].Choices[0].FinishReason)
	assert.Equal(t, chatmodel.FinishStop, *all[1].Choices[0].FinishReason)
}

func TestApplyThinkerMarker_DiscardsPrecedingText(t *testing.T) {
	got := applyThinkerMarker("reasoning reasoning [BEGIN FINAL RESPONSE]the real answer")
	assert.Equal(t, "the real answer", got)
}

func TestApplyThinkerMarker_NoMarkerReturnsEverything(t *testing.T) {
	got := applyThinkerMarker("just a plain answer")
	assert.Equal(t, "just a plain answer", got)
}

func TestContainsMalformedSignature(t *testing.T) {
	assert.True(t, containsMalformedSignature("blah <|channel|>final blah"))
	assert.False(t, containsMalformedSignature("a perfectly normal answer"))
}

func TestTruncate_AppendsNoticeWhenOverLimit(t *testing.T) {
	got := truncate("0123456789", 4)
	assert.Contains(t, got, "0123")
	assert.Contains(t, got, "truncated")
}

func TestTruncate_LeavesShortContentUntouched(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 100))
}
