package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/relcore/toolgate/pkg/chatmodel"
)

// handleChatCompletions implements POST /v1/chat/completions, delegating
// to the orchestrator for both the non-streaming and SSE-streaming cases.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	req, badRequestMsg := decodeChatRequest(r)
	if badRequestMsg != "" {
		writeBadRequest(w, badRequestMsg)
		return
	}

	if req.Stream {
		s.handleChatCompletionsStream(w, r, req)
		return
	}

	completion, err := s.orch.Run(r.Context(), req)
	if err != nil {
		// The orchestrator always synthesizes a completion on recoverable
		// failure; reaching here means something outside its contract
		// broke, so surface it as a 500 rather than guessing.
		writeJSON(w, http.StatusInternalServerError, errorBodyFor(err))
		return
	}
	writeJSON(w, http.StatusOK, completion)
}

func errorBodyFor(err error) errorBody {
	var body errorBody
	body.Error.Message = err.Error()
	body.Error.Type = "internal_error"
	return body
}

// handleChatCompletionsStream writes the orchestrator's chunk stream as
// text/event-stream frames, terminated by the literal "[DONE]" sentinel.
func (s *Server) handleChatCompletionsStream(w http.ResponseWriter, r *http.Request, req chatmodel.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBodyFor(fmt.Errorf("streaming unsupported by this response writer")))
		return
	}

	chunks, err := s.orch.RunStream(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBodyFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk := range chunks {
		payload, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		default:
		}
	}
	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}
