package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relcore/toolgate/pkg/backend"
	"github.com/relcore/toolgate/pkg/chatmodel"
)

// RunStream executes the bounded loop, forwarding only the final answer's
// tokens to the caller. Non-terminal iterations run as streaming backend
// calls that are fully drained without forwarding, so tool-call detection
// works identically to the non-streaming path. The returned channel is
// always closed, with a terminal chunk carrying finish_reason=stop
// immediately before closure.
func (o *Orchestrator) RunStream(ctx context.Context, req chatmodel.ChatRequest) (<-chan chatmodel.Chunk, error) {
	if o.pauser != nil {
		o.pauser.Pause()
	}

	out := make(chan chatmodel.Chunk)
	go func() {
		defer close(out)
		if o.pauser != nil {
			defer o.pauser.Resume()
		}

		ls := o.newLoopState(req)
		id := "chatcmpl-" + uuid.NewString()
		model := effectiveModel(req, o.adapter)
		created := time.Now().Unix()

		o.streamLoop(ctx, &ls, id, model, created, out)
	}()
	return out, nil
}

func (o *Orchestrator) streamLoop(ctx context.Context, ls *loopState, id, model string, created int64, out chan<- chatmodel.Chunk) {
	maxIter := o.cfg.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 1
	}
	tools := o.registry.List()

	for iteration := 1; iteration <= maxIter; iteration++ {
		if ls.timedOut() {
			o.streamFinalSynthesis(ctx, ls, id, model, created, out)
			return
		}

		choice := chatmodel.ToolChoiceAuto
		if iteration == 1 {
			choice = ls.firstIterationChoice
		}

		msg, err := o.drainIteration(ctx, ls, tools, choice)
		if err != nil {
			emitContent(out, id, model, created, apologyText)
			emitStop(out, id, model, created)
			return
		}

		if choice == chatmodel.ToolChoiceRequired && len(msg.ToolCalls) == 0 && !ls.usedRequiredNudge {
			ls.usedRequiredNudge = true
			ls.messages = append(ls.messages, chatmodel.Message{Role: chatmodel.RoleUser, Content: requiredNudgeText})
			if ls.timedOut() {
				o.streamFinalSynthesis(ctx, ls, id, model, created, out)
				return
			}
			msg, err = o.drainIteration(ctx, ls, tools, choice)
			if err != nil {
				emitContent(out, id, model, created, apologyText)
				emitStop(out, id, model, created)
				return
			}
		}

		ls.messages = append(ls.messages, msg)
		o.metrics.ObserveIteration()

		if len(msg.ToolCalls) == 0 {
			// This is the terminal answer. Whether it was going to carry
			// tool calls could only be known once the stream finished, so
			// it was drained rather than forwarded live; the buffered
			// content is replayed as the visible output, still passing
			// through the thinker-marker filter.
			emitContent(out, id, model, created, applyThinkerMarker(msg.Content))
			emitStop(out, id, model, created)
			return
		}

		o.dispatchToolCalls(ctx, ls, msg.ToolCalls)
	}

	o.streamFinalSynthesis(ctx, ls, id, model, created, out)
}

// drainIteration performs one streaming backend call and fully drains it
// without forwarding, reconstructing the equivalent non-streaming message.
func (o *Orchestrator) drainIteration(ctx context.Context, ls *loopState, tools []chatmodel.ToolDescriptor, choice chatmodel.ToolChoice) (chatmodel.Message, error) {
	events, err := o.adapter.ChatStream(ctx, backend.ChatParams{
		Messages:      ls.messages,
		Tools:         tools,
		Temperature:   ls.temperature,
		ToolChoice:    choice,
		ModelOverride: ls.modelOverride,
	})
	if err != nil {
		o.metrics.ObserveBackendCall(o.adapter.Name(), err)
		return chatmodel.Message{}, err
	}

	var content strings.Builder
	var toolCalls []chatmodel.ToolCall
	var streamErr error
	for ev := range events {
		if ev.Err != nil {
			streamErr = ev.Err
			continue
		}
		content.WriteString(ev.ContentDelta)
		if ev.Done {
			toolCalls = ev.ToolCalls
		}
	}
	o.metrics.ObserveBackendCall(o.adapter.Name(), streamErr)
	if streamErr != nil {
		return chatmodel.Message{}, streamErr
	}
	return chatmodel.Message{Role: chatmodel.RoleAssistant, Content: content.String(), ToolCalls: toolCalls}, nil
}

// streamFinalSynthesis mirrors Orchestrator.finalSynthesis but streams the
// forced natural-language answer to the caller, applying the thinker
// marker filter and malformed-output retry on the buffered result.
func (o *Orchestrator) streamFinalSynthesis(ctx context.Context, ls *loopState, id, model string, created int64, out chan<- chatmodel.Chunk) {
	msg, err := o.drainFinalSynthesis(ctx, ls)
	if err != nil {
		emitContent(out, id, model, created, apologyText)
		emitStop(out, id, model, created)
		return
	}

	visible := applyThinkerMarker(msg.Content)
	if containsMalformedSignature(visible) {
		ls.messages = append(ls.messages, chatmodel.Message{Role: chatmodel.RoleUser, Content: cleanOutputNudge})
		msg, err = o.drainFinalSynthesis(ctx, ls)
		if err != nil {
			emitContent(out, id, model, created, malformedFallback)
			emitStop(out, id, model, created)
			return
		}
		visible = applyThinkerMarker(msg.Content)
		if containsMalformedSignature(visible) {
			emitContent(out, id, model, created, malformedFallback)
			emitStop(out, id, model, created)
			return
		}
	}

	emitContent(out, id, model, created, visible)
	emitStop(out, id, model, created)
}

func (o *Orchestrator) drainFinalSynthesis(ctx context.Context, ls *loopState) (chatmodel.Message, error) {
	events, err := o.adapter.ChatStream(ctx, backend.ChatParams{
		Messages:      ls.messages,
		Tools:         nil,
		Temperature:   ls.temperature,
		ToolChoice:    chatmodel.ToolChoiceNone,
		ModelOverride: ls.modelOverride,
	})
	if err != nil {
		o.metrics.ObserveBackendCall(o.adapter.Name(), err)
		return chatmodel.Message{}, err
	}
	var content strings.Builder
	var streamErr error
	for ev := range events {
		if ev.Err != nil {
			streamErr = ev.Err
			continue
		}
		content.WriteString(ev.ContentDelta)
	}
	o.metrics.ObserveBackendCall(o.adapter.Name(), streamErr)
	if streamErr != nil {
		return chatmodel.Message{}, streamErr
	}
	return chatmodel.Message{Role: chatmodel.RoleAssistant, Content: content.String()}, nil
}

// applyThinkerMarker implements the optional thinker-marker protocol: if
// the literal marker appears anywhere in the buffered output, everything
// up to and including it is discarded and only the remainder is visible.
// If the marker never appears, the entire buffer is the visible output;
// no content is ever silently dropped.
func applyThinkerMarker(content string) string {
	idx := strings.Index(content, thinkerBeginMarker)
	if idx == -1 {
		return content
	}
	return content[idx+len(thinkerBeginMarker):]
}

func emitContent(out chan<- chatmodel.Chunk, id, model string, created int64, content string) {
	out <- chatmodel.Chunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []chatmodel.ChunkChoice{{
			Index: 0,
			Delta: chatmodel.ChunkDelta{Role: chatmodel.RoleAssistant, Content: content},
		}},
	}
}

func emitStop(out chan<- chatmodel.Chunk, id, model string, created int64) {
	stop := chatmodel.FinishStop
	out <- chatmodel.Chunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []chatmodel.ChunkChoice{{
			Index:        0,
			Delta:        chatmodel.ChunkDelta{},
			FinishReason: &stop,
		}},
	}
}
