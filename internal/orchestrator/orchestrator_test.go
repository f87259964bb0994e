package orchestrator_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gravityproxy/internal/apitypes"
	"gravityproxy/internal/cooldown"
	"gravityproxy/internal/orchestrator"
	"gravityproxy/internal/resolver"
	"gravityproxy/internal/signature"
	"gravityproxy/internal/tokenpool"
	"gravityproxy/internal/upstream"
)

func newTestOrchestrator(t *testing.T, handler http.HandlerFunc) (*orchestrator.Orchestrator, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)

	pool := tokenpool.NewStaticPool([]tokenpool.Token{
		{AccountIdentifier: "acct-1", AccessToken: "tok", ProjectID: "proj-1"},
	})
	dispatcher := upstream.NewDispatcher(srv.Client(), srv.URL)
	orch := orchestrator.New(pool, dispatcher, cooldown.NewMemoryStore(), signature.New(0), nil)

	return orch, srv.Close
}

func TestOpenAIUnarySuccess(t *testing.T) {
	orch, closeSrv := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello there"}]},"finishReason":"STOP"}]}`))
	})
	defer closeSrv()

	req := &apitypes.OpenAIChatRequest{Model: "gemini-3-flash", Messages: []apitypes.OpenAIMessage{}}
	resp, err := orch.OpenAIUnary(context.Background(), req, "gemini-3-flash", resolver.Resolved{UpstreamModel: "gemini-3-flash-preview"}, "")
	require.NoError(t, err)
	assert.Equal(t, "gemini-3-flash", resp.Model)
	assert.Equal(t, "\"hello there\"", string(resp.Choices[0].Message.Content))
}

func TestOpenAIUnaryExhaustsOnRepeatedQuotaError(t *testing.T) {
	orch, closeSrv := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"quota exceeded"}}`))
	})
	defer closeSrv()

	req := &apitypes.OpenAIChatRequest{Model: "gemini-3-flash"}
	_, err := orch.OpenAIUnary(context.Background(), req, "gemini-3-flash", resolver.Resolved{UpstreamModel: "gemini-3-flash-preview"}, "")

	require.Error(t, err)
	var exhausted *orchestrator.ExhaustedError
	assert.True(t, errors.As(err, &exhausted))
}

func TestOpenAIUnaryMissingProjectID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("dispatcher should not be reached when project id is missing")
	}))
	defer srv.Close()

	pool := tokenpool.NewStaticPool([]tokenpool.Token{{AccountIdentifier: "acct-1", AccessToken: "tok"}})
	dispatcher := upstream.NewDispatcher(srv.Client(), srv.URL)
	orch := orchestrator.New(pool, dispatcher, cooldown.NewMemoryStore(), signature.New(0), nil)

	req := &apitypes.OpenAIChatRequest{Model: "gemini-3-flash"}
	_, err := orch.OpenAIUnary(context.Background(), req, "gemini-3-flash", resolver.Resolved{UpstreamModel: "gemini-3-flash-preview"}, "")
	require.Error(t, err)
}

// TestAnthropicStreamPeekBeforeCommitRetries exercises spec §8's testable
// property 7: a first upstream event carrying finishReason:"MAX_TOKENS"
// with no content must never reach the client as a committed 200 stream.
// With a single-account pool it must instead exhaust.
func TestAnthropicStreamPeekBeforeCommitRetries(t *testing.T) {
	orch, closeSrv := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"candidates":[{"content":{"parts":[{}]},"finishReason":"MAX_TOKENS"}]}` + "\n\n"))
	})
	defer closeSrv()

	req := &apitypes.AnthropicChatRequest{Model: "claude-3-5-sonnet", Stream: true}
	_, err := orch.AnthropicStream(context.Background(), req, "claude-3-5-sonnet", resolver.Resolved{UpstreamModel: "gemini-3-pro-preview"}, "")

	require.Error(t, err)
	var exhausted *orchestrator.ExhaustedError
	assert.True(t, errors.As(err, &exhausted))
}

// TestAnthropicStreamPeekBeforeCommitSucceeds verifies the positive path:
// a first event carrying real text is peeked, then re-prepended to the
// channel the caller reads from, with nothing lost.
func TestAnthropicStreamPeekBeforeCommitSucceeds(t *testing.T) {
	orch, closeSrv := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte(`data: {"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}` + "\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte(`data: {"candidates":[{"content":{"parts":[{"text":" there"}]},"finishReason":"STOP"}]}` + "\n\n"))
		flusher.Flush()
	})
	defer closeSrv()

	req := &apitypes.AnthropicChatRequest{Model: "claude-3-5-sonnet", Stream: true}
	out, err := orch.AnthropicStream(context.Background(), req, "claude-3-5-sonnet", resolver.Resolved{UpstreamModel: "gemini-3-pro-preview"}, "")
	require.NoError(t, err)

	var names []string
	for res := range out {
		require.NoError(t, res.Err)
		names = append(names, res.Event.Name)
	}

	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, names)
}

// TestAnthropicUnaryEmptyMaxTokensExhausts covers spec §4.C10's Anthropic
// unary branch: an assembled-empty response with stop_reason max_tokens
// must retry, and on a single-account pool must exhaust rather than
// return an empty success envelope.
func TestAnthropicUnaryEmptyMaxTokensExhausts(t *testing.T) {
	orch, closeSrv := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"candidates":[{"content":{"parts":[{}]},"finishReason":"MAX_TOKENS"}]}` + "\n\n"))
	})
	defer closeSrv()

	req := &apitypes.AnthropicChatRequest{Model: "claude-3-5-sonnet"}
	_, err := orch.AnthropicUnary(context.Background(), req, "claude-3-5-sonnet", resolver.Resolved{UpstreamModel: "gemini-3-pro-preview"}, "")

	require.Error(t, err)
	var exhausted *orchestrator.ExhaustedError
	assert.True(t, errors.As(err, &exhausted))
}
