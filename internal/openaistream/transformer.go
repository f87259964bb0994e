// Package openaistream implements the OpenAI Stream Transformer (spec
// §4.C6): maps each upstream event into one OpenAI chat-completion chunk.
// The transformer is stateless across events.
package openaistream

import (
	"gravityproxy/internal/apitypes"
	"gravityproxy/internal/upstream"
)

// Transform converts one upstream.Event into an OpenAI chunk. clientModel
// is the client-declared model string (chunks always echo it back, never
// the resolved upstream id). now is the Unix timestamp to stamp onto the
// chunk (callers pass time.Now().Unix() so this package stays free of
// wall-clock calls, keeping it trivially testable).
func Transform(ev *upstream.Event, clientModel string, now int64) apitypes.OpenAIChunk {
	var text string
	var finishReason *string

	cands := ev.Candidates()
	if len(cands) > 0 {
		if len(cands[0].Content.Parts) > 0 {
			text = cands[0].Content.Parts[0].Text
		}
		finishReason = mapFinishReason(cands[0].FinishReason)
	}

	return apitypes.OpenAIChunk{
		ID:      "chatcmpl-stream",
		Object:  "chat.completion.chunk",
		Created: now,
		Model:   clientModel,
		Choices: []apitypes.OpenAIChoice{
			{
				Index:        0,
				Delta:        &apitypes.OpenAIDelta{Content: text},
				FinishReason: finishReason,
			},
		},
	}
}

func mapFinishReason(reason string) *string {
	var out string
	switch reason {
	case "STOP":
		out = "stop"
	case "MAX_TOKENS":
		out = "length"
	case "SAFETY", "RECITATION":
		out = "content_filter"
	case "":
		return nil
	default:
		return nil
	}
	return &out
}
