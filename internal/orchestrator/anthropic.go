package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"gravityproxy/internal/anthropicstream"
	"gravityproxy/internal/apitypes"
	"gravityproxy/internal/classify"
	"gravityproxy/internal/convert"
	"gravityproxy/internal/resolver"
	"gravityproxy/internal/upstream"
)

// AnthropicStreamResult is delivered on the channel AnthropicStream
// returns. Err is set only on the final item, and only when the stream
// fails after the first chunk; a clean end closes the channel without an
// error item.
type AnthropicStreamResult struct {
	Event anthropicstream.SSEEvent
	Err   error
}

func (o *Orchestrator) dispatchAnthropic(ctx context.Context, req *apitypes.AnthropicChatRequest, resolved resolver.Resolved, sessionKey string, attempt int) (*upstream.EventStream, string, error) {
	tok, err := o.nextToken(ctx, sessionKey, attempt)
	if err != nil {
		return nil, "", err
	}
	if tok.ProjectID == "" {
		return nil, tok.AccountIdentifier, &classify.ConfigMissingError{Field: "project_id"}
	}

	upReq := convert.FromAnthropic(req, convert.Options{
		Project:   tok.ProjectID,
		RequestID: freshRequestID(),
		SessionID: tok.SessionID,
		Resolved:  resolved,
	}, o.Signatures)

	body, err := json.Marshal(upReq)
	if err != nil {
		return nil, tok.AccountIdentifier, fmt.Errorf("marshaling upstream request: %w", err)
	}

	stream, err := o.Dispatcher.Stream(ctx, tok.AccessToken, upstream.DialectAnthropic, body)
	if err != nil {
		o.maybeMarkCooldown(ctx, tok.AccountIdentifier, err)
		return nil, tok.AccountIdentifier, err
	}
	return stream, tok.AccountIdentifier, nil
}

// AnthropicStream implements spec §4.C10 step 3's "Anthropic stream"
// branch, including the peek-before-commit rule (spec §9): it reads the
// first upstream event through the state machine before telling the
// caller it is safe to start writing HTTP 200. If that first event
// classifies as Retry (most commonly EmptyFinish), it loops to the next
// account instead of ever committing a response.
func (o *Orchestrator) AnthropicStream(ctx context.Context, req *apitypes.AnthropicChatRequest, clientModel string, resolved resolver.Resolved, sessionKey string) (<-chan AnthropicStreamResult, error) {
	budget := o.attemptBudget()
	var lastErr error

	for attempt := 0; attempt < budget; attempt++ {
		stream, accountID, err := o.dispatchAnthropic(ctx, req, resolved, sessionKey, attempt)
		if err != nil {
			lastErr = err
			if o.classify(err).IsRetry() {
				continue
			}
			return nil, err
		}

		machine := anthropicstream.New(clientModel, o.Signatures)

		ev, done, nerr := stream.Next()
		if nerr != nil && !errors.Is(nerr, io.EOF) {
			lastErr = nerr
			stream.Close()
			o.maybeMarkCooldown(ctx, accountID, nerr)
			if o.classify(nerr).IsRetry() {
				continue
			}
			return nil, nerr
		}
		if done || ev == nil {
			stream.Close()
			lastErr = fmt.Errorf("upstream closed stream with no content")
			continue
		}

		peeked, ferr := machine.Feed(ev)
		if ferr != nil {
			stream.Close()
			lastErr = ferr
			o.maybeMarkCooldown(ctx, accountID, ferr)
			if o.classify(ferr).IsRetry() {
				continue
			}
			return nil, ferr
		}

		// Committed: every subsequent stream failure is logged and
		// terminates the response without retry (spec §3 invariants).
		out := make(chan AnthropicStreamResult)
		go runAnthropicStream(ctx, stream, machine, peeked, out)
		return out, nil
	}

	o.Metrics.RecordExhausted()
	return nil, &ExhaustedError{LastErr: lastErr}
}

func runAnthropicStream(ctx context.Context, stream *upstream.EventStream, machine *anthropicstream.Machine, peeked []anthropicstream.SSEEvent, out chan<- AnthropicStreamResult) {
	defer close(out)
	defer stream.Close()

	for _, e := range peeked {
		select {
		case out <- AnthropicStreamResult{Event: e}:
		case <-ctx.Done():
			return
		}
	}

	for !machine.Done() {
		ev, done, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			log.Printf("anthropic stream terminated after first chunk: %v", err)
			select {
			case out <- AnthropicStreamResult{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		if done {
			return
		}

		evs, ferr := machine.Feed(ev)
		if ferr != nil {
			log.Printf("anthropic stream terminated after first chunk: %v", ferr)
			select {
			case out <- AnthropicStreamResult{Err: ferr}:
			case <-ctx.Done():
			}
			return
		}
		for _, e := range evs {
			select {
			case out <- AnthropicStreamResult{Event: e}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// AnthropicUnary implements spec §4.C10 step 3's "Anthropic unary"
// branch: collect the whole stream into a buffer; if the assembled text
// is empty and stop_reason is max_tokens, retry.
func (o *Orchestrator) AnthropicUnary(ctx context.Context, req *apitypes.AnthropicChatRequest, clientModel string, resolved resolver.Resolved, sessionKey string) (*apitypes.AnthropicMessageResponse, error) {
	budget := o.attemptBudget()
	var lastErr error

	for attempt := 0; attempt < budget; attempt++ {
		stream, accountID, err := o.dispatchAnthropic(ctx, req, resolved, sessionKey, attempt)
		if err != nil {
			lastErr = err
			if o.classify(err).IsRetry() {
				continue
			}
			return nil, err
		}

		var text strings.Builder
		stopReason := "end_turn"
		failed := false

		for {
			ev, done, nerr := stream.Next()
			if nerr != nil {
				if errors.Is(nerr, io.EOF) {
					break
				}
				lastErr = nerr
				failed = true
				break
			}
			if done {
				break
			}
			part := ev.FirstPart()
			text.WriteString(part.Text)
			if fr := ev.FinishReason(); fr != "" {
				stopReason = mapAnthropicStopReason(fr)
				break
			}
		}
		stream.Close()

		if failed {
			o.maybeMarkCooldown(ctx, accountID, lastErr)
			if o.classify(lastErr).IsRetry() {
				continue
			}
			return nil, lastErr
		}

		if text.Len() == 0 && stopReason == "max_tokens" {
			lastErr = &classify.EmptyFinishError{Reason: "MAX_TOKENS"}
			continue
		}

		return &apitypes.AnthropicMessageResponse{
			ID:         "msg_" + freshRequestID(),
			Type:       "message",
			Role:       "assistant",
			Model:      clientModel,
			Content:    []apitypes.AnthropicPart{{Type: "text", Text: text.String()}},
			StopReason: stopReason,
			Usage:      apitypes.AnthropicUsage{},
		}, nil
	}

	o.Metrics.RecordExhausted()
	return nil, &ExhaustedError{LastErr: lastErr}
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "STOP":
		return "end_turn"
	case "MAX_TOKENS":
		return "max_tokens"
	case "SAFETY", "RECITATION":
		return "stop_sequence"
	default:
		return "end_turn"
	}
}
