package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gravityproxy/internal/apitypes"
	"gravityproxy/internal/classify"
	"gravityproxy/internal/convert"
	"gravityproxy/internal/inlinedata"
	"gravityproxy/internal/openaistream"
	"gravityproxy/internal/resolver"
	"gravityproxy/internal/upstream"
)

// OpenAIStreamResult is delivered on the channel OpenAIStream returns.
// Err is set only on the final item, and only when the upstream stream
// fails after the response was committed (spec §3 invariants); a clean
// end closes the channel without an error item.
type OpenAIStreamResult struct {
	Chunk apitypes.OpenAIChunk
	Err   error
}

// ExhaustedError is returned (never as a stream item — always as the
// direct error result) when every account in the pool has been tried
// and all attempts classified as Retry (spec §4.C10 step 4).
type ExhaustedError struct {
	LastErr error
}

func (e *ExhaustedError) Error() string { return exhaustedMessage(e.LastErr) }
func (e *ExhaustedError) Unwrap() error { return e.LastErr }

func (o *Orchestrator) dispatchOpenAI(ctx context.Context, req *apitypes.OpenAIChatRequest, clientModel string, resolved resolver.Resolved, sessionKey string, attempt int) (*upstream.EventStream, string, error) {
	tok, err := o.nextToken(ctx, sessionKey, attempt)
	if err != nil {
		return nil, "", err
	}
	if tok.ProjectID == "" {
		return nil, tok.AccountIdentifier, &classify.ConfigMissingError{Field: "project_id"}
	}

	upReq := convert.FromOpenAI(req, convert.Options{
		Project:   tok.ProjectID,
		RequestID: freshRequestID(),
		SessionID: tok.SessionID,
		Resolved:  resolved,
		ForOpenAI: true,
	})
	body, err := json.Marshal(upReq)
	if err != nil {
		return nil, tok.AccountIdentifier, fmt.Errorf("marshaling upstream request: %w", err)
	}

	stream, err := o.Dispatcher.Stream(ctx, tok.AccessToken, upstream.DialectOpenAI, body)
	if err != nil {
		o.maybeMarkCooldown(ctx, tok.AccountIdentifier, err)
		return nil, tok.AccountIdentifier, err
	}
	return stream, tok.AccountIdentifier, nil
}

func (o *Orchestrator) maybeMarkCooldown(ctx context.Context, accountID string, err error) {
	if classify.Classify(err) == classify.RetryQuota {
		o.markQuotaExhausted(ctx, accountID)
	}
}

// OpenAIStream implements spec §4.C10 step 3's "OpenAI stream" branch:
// forward C6-transformed events, retrying across accounts on any
// dispatch-time failure that classifies as Retry (the OpenAI transformer has no empty-chunk
// policy of its own, so retries here are driven purely by dispatch
// errors, not by inspecting the first transformed chunk).
func (o *Orchestrator) OpenAIStream(ctx context.Context, req *apitypes.OpenAIChatRequest, clientModel string, resolved resolver.Resolved, sessionKey string) (<-chan OpenAIStreamResult, error) {
	budget := o.attemptBudget()
	var lastErr error

	for attempt := 0; attempt < budget; attempt++ {
		stream, _, err := o.dispatchOpenAI(ctx, req, clientModel, resolved, sessionKey, attempt)
		if err != nil {
			lastErr = err
			if o.classify(err).IsRetry() {
				continue
			}
			return nil, err
		}

		out := make(chan OpenAIStreamResult)
		go runOpenAIStream(ctx, stream, clientModel, out)
		return out, nil
	}

	o.Metrics.RecordExhausted()
	return nil, &ExhaustedError{LastErr: lastErr}
}

func runOpenAIStream(ctx context.Context, stream *upstream.EventStream, clientModel string, out chan<- OpenAIStreamResult) {
	defer close(out)
	defer stream.Close()

	for {
		ev, done, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case out <- OpenAIStreamResult{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		if done {
			return
		}
		chunk := openaistream.Transform(ev, clientModel, time.Now().Unix())
		select {
		case out <- OpenAIStreamResult{Chunk: chunk}:
		case <-ctx.Done():
			return
		}
	}
}

// OpenAIUnary implements spec §4.C10 step 3's "OpenAI unary" branch.
func (o *Orchestrator) OpenAIUnary(ctx context.Context, req *apitypes.OpenAIChatRequest, clientModel string, resolved resolver.Resolved, sessionKey string) (*apitypes.OpenAIResponse, error) {
	budget := o.attemptBudget()
	var lastErr error

	for attempt := 0; attempt < budget; attempt++ {
		tok, err := o.nextToken(ctx, sessionKey, attempt)
		if err != nil {
			return nil, err
		}
		if tok.ProjectID == "" {
			return nil, &classify.ConfigMissingError{Field: "project_id"}
		}

		upReq := convert.FromOpenAI(req, convert.Options{
			Project:   tok.ProjectID,
			RequestID: freshRequestID(),
			SessionID: tok.SessionID,
			Resolved:  resolved,
			ForOpenAI: true,
		})
		body, merr := json.Marshal(upReq)
		if merr != nil {
			return nil, fmt.Errorf("marshaling upstream request: %w", merr)
		}

		ev, derr := o.Dispatcher.Unary(ctx, tok.AccessToken, upstream.DialectOpenAI, body)
		if derr != nil {
			lastErr = derr
			o.maybeMarkCooldown(ctx, tok.AccountIdentifier, derr)
			if o.classify(derr).IsRetry() {
				continue
			}
			return nil, derr
		}

		ev = inlinedata.Process(ev)
		part := ev.FirstPart()
		finish := ev.FinishReason()
		if part.Text == "" && finish != "" && (finish == "STOP" || finish == "MAX_TOKENS") {
			lastErr = &classify.EmptyFinishError{Reason: finish}
			continue
		}

		finishReasonPtr := mapOpenAIFinish(finish)
		return &apitypes.OpenAIResponse{
			ID:      "chatcmpl-" + freshRequestID(),
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   clientModel,
			Choices: []apitypes.OpenAIChoice{{
				Index:        0,
				Message:      &apitypes.OpenAIMessage{Role: "assistant", Content: jsonString(part.Text)},
				FinishReason: finishReasonPtr,
			}},
		}, nil
	}

	o.Metrics.RecordExhausted()
	return nil, &ExhaustedError{LastErr: lastErr}
}

// ImageStream implements spec §4.C10 step 3's "Image-stream" branch: a
// unary call whose inline-data result is synthesized into a two-chunk
// SSE stream (content chunk, finish_reason:"stop" chunk, then [DONE] —
// the [DONE] sentinel is the HTTP surface's job, not modeled as a chunk
// here).
func (o *Orchestrator) ImageStream(ctx context.Context, req *apitypes.OpenAIChatRequest, clientModel string, resolved resolver.Resolved, sessionKey string) (<-chan OpenAIStreamResult, error) {
	budget := o.attemptBudget()
	var lastErr error

	for attempt := 0; attempt < budget; attempt++ {
		tok, err := o.nextToken(ctx, sessionKey, attempt)
		if err != nil {
			return nil, err
		}
		if tok.ProjectID == "" {
			return nil, &classify.ConfigMissingError{Field: "project_id"}
		}

		upReq := convert.FromOpenAI(req, convert.Options{
			Project:   tok.ProjectID,
			RequestID: freshRequestID(),
			SessionID: tok.SessionID,
			Resolved:  resolved,
			ForOpenAI: true,
		})
		body, merr := json.Marshal(upReq)
		if merr != nil {
			return nil, fmt.Errorf("marshaling upstream request: %w", merr)
		}

		ev, derr := o.Dispatcher.Unary(ctx, tok.AccessToken, upstream.DialectOpenAI, body)
		if derr != nil {
			lastErr = derr
			o.maybeMarkCooldown(ctx, tok.AccountIdentifier, derr)
			if o.classify(derr).IsRetry() {
				continue
			}
			return nil, derr
		}

		ev = inlinedata.Process(ev)
		part := ev.FirstPart()

		out := make(chan OpenAIStreamResult, 2)
		stop := "stop"
		out <- OpenAIStreamResult{Chunk: apitypes.OpenAIChunk{
			ID: "chatcmpl-stream", Object: "chat.completion.chunk", Created: time.Now().Unix(), Model: clientModel,
			Choices: []apitypes.OpenAIChoice{{Index: 0, Delta: &apitypes.OpenAIDelta{Content: part.Text}}},
		}}
		out <- OpenAIStreamResult{Chunk: apitypes.OpenAIChunk{
			ID: "chatcmpl-stream", Object: "chat.completion.chunk", Created: time.Now().Unix(), Model: clientModel,
			Choices: []apitypes.OpenAIChoice{{Index: 0, Delta: &apitypes.OpenAIDelta{}, FinishReason: &stop}},
		}}
		close(out)
		return out, nil
	}

	o.Metrics.RecordExhausted()
	return nil, &ExhaustedError{LastErr: lastErr}
}

func mapOpenAIFinish(reason string) *string {
	var out string
	switch reason {
	case "STOP":
		out = "stop"
	case "MAX_TOKENS":
		out = "length"
	case "SAFETY", "RECITATION":
		out = "content_filter"
	default:
		return nil
	}
	return &out
}

func jsonString(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}
