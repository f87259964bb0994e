package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"gravityproxy/internal/apitypes"
	"gravityproxy/internal/classify"
	"gravityproxy/internal/orchestrator"
	"gravityproxy/internal/resolver"
)

// sessionKeyForOpenAI derives the token pool's session-affinity key (spec
// §9's round-robin design note) from an OpenAI request: the client's
// stable "user" identifier when present, otherwise a hash of the system
// prompt plus the first user message, so repeated calls from the same
// logical conversation tend to land on the same account even without a
// client-supplied user id.
func sessionKeyForOpenAI(req *apitypes.OpenAIChatRequest) string {
	if req.User != "" {
		return req.User
	}
	var system, firstUser string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if system == "" {
				system = m.Text()
			}
		case "user":
			if firstUser == "" {
				firstUser = m.Text()
			}
		}
	}
	if system == "" && firstUser == "" {
		return ""
	}
	return hashSessionKey(system + "\x00" + firstUser)
}

// sessionKeyForAnthropic is sessionKeyForOpenAI's Anthropic-dialect
// counterpart: prefers metadata.user_id, falling back to a hash of the
// system prompt plus the first user message.
func sessionKeyForAnthropic(req *apitypes.AnthropicChatRequest) string {
	if req.Metadata != nil && req.Metadata.UserID != "" {
		return req.Metadata.UserID
	}
	system := req.SystemText()
	var firstUser string
	for _, m := range req.Messages {
		if m.Role == "user" {
			for _, p := range m.ContentParts() {
				if p.Type == "text" && p.Text != "" {
					firstUser = p.Text
					break
				}
			}
			if firstUser != "" {
				break
			}
		}
	}
	if system == "" && firstUser == "" {
		return ""
	}
	return hashSessionKey(system + "\x00" + firstUser)
}

func hashSessionKey(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 16)
}

// handleHealthz responds with a simple JSON liveness status (spec §4.C11).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// staticModels is the list GET /v1/models advertises: Gemini natives,
// Claude natives, and image variants (spec §4.C11).
var staticModels = []string{
	"gemini-3-flash", "gemini-3-flash-preview",
	"gemini-3-pro-preview", "gemini-3-pro-high",
	"gemini-2.0-flash-exp", "gemini-2.5-flash-thinking",
	"claude-3-5-sonnet", "claude-3-7-sonnet", "claude-3-haiku", "claude-3-opus",
	"gemini-3-pro-image",
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models := make([]apitypes.OpenAIModel, len(staticModels))
	for i, id := range staticModels {
		models[i] = apitypes.OpenAIModel{ID: id, Object: "model", OwnedBy: "gravityproxy"}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apitypes.OpenAIModelList{Object: "list", Data: models})
}

func writeOpenAIError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apitypes.OpenAIError{Error: apitypes.OpenAIErrorBody{Message: message, Type: errType}})
}

func writeAnthropicError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apitypes.AnthropicError{Type: "error", Error: apitypes.AnthropicErrorBody{Type: errType, Message: message}})
}

// errorStatusAndType maps a terminal (non-retry or exhausted) error to an
// HTTP status and a dialect-appropriate error type string (spec §7, §4.C10
// step 4).
func errorStatusAndType(err error, openAI bool) (int, string) {
	var noAccounts *classify.NoAccountsError
	if errors.As(err, &noAccounts) {
		return http.StatusServiceUnavailable, "no_accounts"
	}
	var cfgMissing *classify.ConfigMissingError
	if errors.As(err, &cfgMissing) {
		return http.StatusInternalServerError, "config_error"
	}
	var exhausted *orchestrator.ExhaustedError
	if errors.As(err, &exhausted) {
		if openAI {
			return http.StatusTooManyRequests, "all_accounts_exhausted"
		}
		return http.StatusTooManyRequests, "rate_limit_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

func imageOptionsFromOpenAI(req *apitypes.OpenAIChatRequest) resolver.ImageOptions {
	opts := resolver.ImageOptions{Size: req.Size, Quality: req.Quality}
	if req.Extra != nil {
		if v, ok := req.Extra["aspectRatio"].(string); ok {
			opts.ExtraAspectRatio = v
		} else if v, ok := req.Extra["aspect_ratio"].(string); ok {
			opts.ExtraAspectRatio = v
		}
		if v, ok := req.Extra["imageSize"].(string); ok {
			opts.ExtraImageSize = v
		}
	}
	return opts
}

// handleOpenAIChatCompletions handles POST /v1/chat/completions (spec
// §4.C11, §4.C10).
func (s *Server) handleOpenAIChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req apitypes.OpenAIChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		s.metrics.RecordRequest("openai", "bad_request", time.Since(start))
		return
	}

	snap := s.mappingWatch()
	resolved := resolver.Resolve(resolver.EndpointOpenAI, req.Model, snap, imageOptionsFromOpenAI(&req))

	ctx := r.Context()
	sessionKey := sessionKeyForOpenAI(&req)

	if resolved.ImageModel {
		out, err := s.orchestrator.ImageStream(ctx, &req, req.Model, resolved, sessionKey)
		if err != nil {
			status, errType := errorStatusAndType(err, true)
			writeOpenAIError(w, status, errType, err.Error())
			s.metrics.RecordRequest("openai", errType, time.Since(start))
			return
		}
		writeOpenAISSE(w, out)
		s.metrics.RecordRequest("openai", "ok", time.Since(start))
		return
	}

	if req.Stream {
		out, err := s.orchestrator.OpenAIStream(ctx, &req, req.Model, resolved, sessionKey)
		if err != nil {
			status, errType := errorStatusAndType(err, true)
			writeOpenAIError(w, status, errType, err.Error())
			s.metrics.RecordRequest("openai", errType, time.Since(start))
			return
		}
		writeOpenAISSE(w, out)
		s.metrics.RecordRequest("openai", "ok", time.Since(start))
		return
	}

	resp, err := s.orchestrator.OpenAIUnary(ctx, &req, req.Model, resolved, sessionKey)
	if err != nil {
		status, errType := errorStatusAndType(err, true)
		writeOpenAIError(w, status, errType, err.Error())
		s.metrics.RecordRequest("openai", errType, time.Since(start))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
	s.metrics.RecordRequest("openai", "ok", time.Since(start))
}

func writeOpenAISSE(w http.ResponseWriter, out <-chan orchestrator.OpenAIStreamResult) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for res := range out {
		if res.Err != nil {
			log.Printf("openai stream terminated: %v", res.Err)
			break
		}
		b, err := json.Marshal(res.Chunk)
		if err != nil {
			log.Printf("encoding openai chunk: %v", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// handleAnthropicMessages handles POST /v1/messages (spec §4.C11, §4.C10).
func (s *Server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req apitypes.AnthropicChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		s.metrics.RecordRequest("anthropic", "bad_request", time.Since(start))
		return
	}

	snap := s.mappingWatch()
	resolved := resolver.Resolve(resolver.EndpointAnthropic, req.Model, snap, resolver.ImageOptions{})

	ctx := r.Context()
	sessionKey := sessionKeyForAnthropic(&req)

	if req.Stream {
		out, err := s.orchestrator.AnthropicStream(ctx, &req, req.Model, resolved, sessionKey)
		if err != nil {
			status, errType := errorStatusAndType(err, false)
			writeAnthropicError(w, status, errType, err.Error())
			s.metrics.RecordRequest("anthropic", errType, time.Since(start))
			return
		}
		writeAnthropicSSE(w, out)
		s.metrics.RecordRequest("anthropic", "ok", time.Since(start))
		return
	}

	resp, err := s.orchestrator.AnthropicUnary(ctx, &req, req.Model, resolved, sessionKey)
	if err != nil {
		status, errType := errorStatusAndType(err, false)
		writeAnthropicError(w, status, errType, err.Error())
		s.metrics.RecordRequest("anthropic", errType, time.Since(start))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
	s.metrics.RecordRequest("anthropic", "ok", time.Since(start))
}

func writeAnthropicSSE(w http.ResponseWriter, out <-chan orchestrator.AnthropicStreamResult) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for res := range out {
		if res.Err != nil {
			log.Printf("anthropic stream terminated: %v", res.Err)
			break
		}
		b, err := json.Marshal(res.Event.Payload)
		if err != nil {
			log.Printf("encoding anthropic event: %v", err)
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", res.Event.Name, b)
		flusher.Flush()
	}
}
