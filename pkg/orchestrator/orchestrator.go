// Package orchestrator implements the bounded tool-calling loop at the
// heart of the system. It sits between the request surface and the
// backend adapter, turning one ChatRequest into one OpenAI-shaped
// completion (or stream of chunks), dispatching any tool calls the model
// emits along the way.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relcore/toolgate/pkg/backend"
	"github.com/relcore/toolgate/pkg/chatmodel"
	"github.com/relcore/toolgate/pkg/gatewayerr"
	"github.com/relcore/toolgate/pkg/promptcache"
	"github.com/relcore/toolgate/pkg/tool"
)

const (
	apologyText        = "I'm sorry, I wasn't able to complete that request right now. Please try again."
	malformedFallback  = "I'm sorry, I wasn't able to produce a valid response."
	requiredNudgeText  = "You must call one of the available tools to answer this request. Do not respond with plain text."
	cleanOutputNudge   = "Your previous response contained internal formatting markers that must never appear in output. Respond again with clean, natural-language text only."
	thinkerBeginMarker = "[BEGIN FINAL RESPONSE]"
)

// malformedSignatures are literal substrings that indicate a model leaked
// internal role/channel markup into its final-synthesis output.
var malformedSignatures = []string{
	"<|start|>",
	"<|channel|>",
	"<|message|>",
	"<|end|>",
	"<|constrain|>",
}

// RAGPauser is the advisory pause/resume coordination surface the RAG
// index's background jobs honor. The orchestrator signals pause at the
// start of a request and resume at the end; it never blocks waiting for
// an acknowledgement. Defined here rather than imported from pkg/ragindex
// so this package has no dependency on the index's implementation.
type RAGPauser interface {
	Pause()
	Resume()
}

// Recorder observes orchestrator activity for the /metrics endpoint. A nil
// Recorder is never passed to callers; New substitutes a no-op
// implementation when none is supplied.
type Recorder interface {
	ObserveIteration()
	ObserveToolCall(name string, err error)
	ObserveBackendCall(dialect string, err error)
}

type noopRecorder struct{}

func (noopRecorder) ObserveIteration()               {}
func (noopRecorder) ObserveToolCall(string, error)   {}
func (noopRecorder) ObserveBackendCall(string, error) {}

// Config is the orchestrator's slice of the frozen gateway configuration,
// passed by value rather than as a shared *config.Config pointer so the
// orchestrator can never accidentally observe a config mutation
// mid-request.
type Config struct {
	MaxToolIterations        int
	ToolLoopTimeout          time.Duration
	FirstIterationToolChoice chatmodel.ToolChoice
	MaxToolResultChars       int
	DefaultTemperature       float64
}

// Orchestrator runs the tool-calling loop for one backend/registry pair.
// It is safe for concurrent use by multiple request goroutines: all
// per-request state lives on the stack of Run/RunStream, never on the
// Orchestrator value itself.
type Orchestrator struct {
	adapter  backend.Adapter
	registry *tool.Registry
	prompts  *promptcache.Cache
	pauser   RAGPauser
	metrics  Recorder
	cfg      Config
}

// New builds an Orchestrator. pauser and metrics may be nil.
func New(adapter backend.Adapter, registry *tool.Registry, prompts *promptcache.Cache, pauser RAGPauser, metrics Recorder, cfg Config) *Orchestrator {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Orchestrator{adapter: adapter, registry: registry, prompts: prompts, pauser: pauser, metrics: metrics, cfg: cfg}
}

// loopState carries the per-request working memory threaded through every
// iteration of the bounded loop.
type loopState struct {
	messages             []chatmodel.Message
	modelOverride        string
	temperature          float64
	firstIterationChoice chatmodel.ToolChoice
	deadline             time.Time
	hasDeadline          bool
	usedRequiredNudge    bool
}

func (o *Orchestrator) newLoopState(req chatmodel.ChatRequest) loopState {
	messages := make([]chatmodel.Message, len(req.Messages))
	copy(messages, req.Messages)
	messages = o.injectSystemPrompt(messages)

	temp := o.cfg.DefaultTemperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}

	// tool_choice is a per-request input that overrides the configured
	// default for the first iteration only; later iterations always fall
	// back to auto (handled in runLoop).
	firstChoice := o.cfg.FirstIterationToolChoice
	if req.ToolChoice != nil && *req.ToolChoice != "" {
		firstChoice = *req.ToolChoice
	}
	if firstChoice == "" {
		firstChoice = chatmodel.ToolChoiceAuto
	}

	ls := loopState{messages: messages, modelOverride: req.Model, temperature: temp, firstIterationChoice: firstChoice}
	if o.cfg.ToolLoopTimeout > 0 {
		ls.deadline = time.Now().Add(o.cfg.ToolLoopTimeout)
		ls.hasDeadline = true
	}
	return ls
}

// injectSystemPrompt prepends the cache's resolved prompt text as a system
// message when the request didn't already supply one. A request that
// already leads with a system message is left untouched rather than
// stacking a second one.
func (o *Orchestrator) injectSystemPrompt(messages []chatmodel.Message) []chatmodel.Message {
	if o.prompts == nil {
		return messages
	}
	if len(messages) > 0 && messages[0].Role == chatmodel.RoleSystem {
		return messages
	}
	prompt := o.prompts.Get()
	if prompt == "" {
		return messages
	}
	return append([]chatmodel.Message{{Role: chatmodel.RoleSystem, Content: prompt}}, messages...)
}

func (ls *loopState) timedOut() bool {
	return ls.hasDeadline && time.Now().After(ls.deadline)
}

// Run executes the full bounded loop non-streaming and returns one
// OpenAI-shaped completion with a single choice.
func (o *Orchestrator) Run(ctx context.Context, req chatmodel.ChatRequest) (*chatmodel.Completion, error) {
	if o.pauser != nil {
		o.pauser.Pause()
		defer o.pauser.Resume()
	}

	ls := o.newLoopState(req)
	final, finishReason, err := o.runLoop(ctx, &ls)
	if err != nil {
		final = chatmodel.Message{Role: chatmodel.RoleAssistant, Content: apologyText}
		finishReason = chatmodel.FinishError
	}

	return &chatmodel.Completion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   effectiveModel(req, o.adapter),
		Choices: []chatmodel.Choice{{Index: 0, Message: final, FinishReason: finishReason}},
	}, nil
}

// HealthCheck delegates to the configured backend's probe so the request
// surface's /health endpoint never needs its own reference to the adapter.
func (o *Orchestrator) HealthCheck(ctx context.Context) error {
	return o.adapter.HealthCheck(ctx)
}

func effectiveModel(req chatmodel.ChatRequest, adapter backend.Adapter) string {
	if req.Model != "" {
		return req.Model
	}
	return adapter.Name()
}

// runLoop runs the bounded tool-calling iterations and returns the final
// assistant message plus its finish reason. It never returns a raw tool
// result as the answer.
func (o *Orchestrator) runLoop(ctx context.Context, ls *loopState) (chatmodel.Message, string, error) {
	maxIter := o.cfg.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 1
	}
	tools := o.registry.List()

	for iteration := 1; iteration <= maxIter; iteration++ {
		if ls.timedOut() {
			return o.finalSynthesis(ctx, ls)
		}

		choice := chatmodel.ToolChoiceAuto
		if iteration == 1 {
			choice = ls.firstIterationChoice
		}

		result, err := o.callBackend(ctx, ls, tools, choice)
		if err != nil {
			return chatmodel.Message{}, "", err
		}

		if choice == chatmodel.ToolChoiceRequired && len(result.Message.ToolCalls) == 0 && !ls.usedRequiredNudge {
			ls.usedRequiredNudge = true
			ls.messages = append(ls.messages, chatmodel.Message{Role: chatmodel.RoleUser, Content: requiredNudgeText})
			if ls.timedOut() {
				return o.finalSynthesis(ctx, ls)
			}
			result, err = o.callBackend(ctx, ls, tools, choice)
			if err != nil {
				return chatmodel.Message{}, "", err
			}
		}

		ls.messages = append(ls.messages, result.Message)
		o.metrics.ObserveIteration()

		if len(result.Message.ToolCalls) == 0 {
			return result.Message, chatmodel.FinishStop, nil
		}

		o.dispatchToolCalls(ctx, ls, result.Message.ToolCalls)
	}

	return o.finalSynthesis(ctx, ls)
}

// dispatchToolCalls executes each call in order and appends its result as
// a tool message preserving call_id correspondence, truncating per the
// configured per-tool character limit.
func (o *Orchestrator) dispatchToolCalls(ctx context.Context, ls *loopState, calls []chatmodel.ToolCall) {
	for _, call := range calls {
		res := o.registry.Execute(ctx, call)
		o.metrics.ObserveToolCall(call.ToolName, res.Err)

		content := res.Content
		switch {
		case res.Err == nil:
			// content already holds the tool's successful output.
		case gatewayerr.Is(res.Err, gatewayerr.KindToolNotFound):
			content = fmt.Sprintf("Error: tool %s not registered", call.ToolName)
		default:
			content = fmt.Sprintf("Error: %v", res.Err)
		}
		content = truncate(content, o.cfg.MaxToolResultChars)

		ls.messages = append(ls.messages, chatmodel.Message{
			Role:       chatmodel.RoleTool,
			Content:    content,
			ToolCallID: call.CallID,
		})
	}
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n...[truncated, %d characters omitted]", len(s)-max)
}

// callBackend performs one non-streaming backend call with the current
// message history, wrapped for metrics observation.
func (o *Orchestrator) callBackend(ctx context.Context, ls *loopState, tools []chatmodel.ToolDescriptor, choice chatmodel.ToolChoice) (backend.ChatResult, error) {
	result, err := o.adapter.Chat(ctx, backend.ChatParams{
		Messages:      ls.messages,
		Tools:         tools,
		Temperature:   ls.temperature,
		ToolChoice:    choice,
		ModelOverride: ls.modelOverride,
	})
	o.metrics.ObserveBackendCall(o.adapter.Name(), err)
	return result, err
}

// finalSynthesis forces a natural-language answer from whatever tool
// results have already been gathered, retrying once if malformed markup
// is detected.
func (o *Orchestrator) finalSynthesis(ctx context.Context, ls *loopState) (chatmodel.Message, string, error) {
	attempt := func() (chatmodel.Message, error) {
		result, err := o.adapter.Chat(ctx, backend.ChatParams{
			Messages:      ls.messages,
			Tools:         nil,
			Temperature:   ls.temperature,
			ToolChoice:    chatmodel.ToolChoiceNone,
			ModelOverride: ls.modelOverride,
		})
		o.metrics.ObserveBackendCall(o.adapter.Name(), err)
		if err != nil {
			return chatmodel.Message{}, err
		}
		return result.Message, nil
	}

	msg, err := attempt()
	if err != nil {
		return chatmodel.Message{Role: chatmodel.RoleAssistant, Content: apologyText}, chatmodel.FinishStop, nil
	}

	if containsMalformedSignature(msg.Content) {
		ls.messages = append(ls.messages, chatmodel.Message{Role: chatmodel.RoleUser, Content: cleanOutputNudge})
		msg, err = attempt()
		if err != nil || containsMalformedSignature(msg.Content) {
			return chatmodel.Message{Role: chatmodel.RoleAssistant, Content: malformedFallback}, chatmodel.FinishStop, nil
		}
	}

	return msg, chatmodel.FinishStop, nil
}

func containsMalformedSignature(content string) bool {
	for _, sig := range malformedSignatures {
		if strings.Contains(content, sig) {
			return true
		}
	}
	return false
}
