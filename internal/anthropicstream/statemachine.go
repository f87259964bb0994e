// Package anthropicstream implements the Anthropic Stream Transformer
// (spec §4.C7): a state machine producing the multi-event Anthropic SSE
// grammar from upstream events.
package anthropicstream

import (
	"github.com/google/uuid"

	"gravityproxy/internal/apitypes"
	"gravityproxy/internal/classify"
	"gravityproxy/internal/signature"
	"gravityproxy/internal/upstream"
)

// SSEEvent is one named Anthropic SSE frame (event: <Name>\ndata: <Payload>).
type SSEEvent struct {
	Name    string
	Payload any
}

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
)

type state int

const (
	stateInit state = iota
	stateBlockPending
	stateBlockOpen
	stateEnd
)

// Machine drives the Anthropic SSE state machine across a single
// request's upstream events (Init -> BlockPending -> BlockOpen(kind) ->
// End, spec §4.C7). Not safe for concurrent use; one Machine per request.
type Machine struct {
	st          state
	blockIndex  int
	openKind    blockKind
	clientModel string
	sigCache    *signature.Cache
	done        bool
}

// New builds a fresh Machine for one request.
func New(clientModel string, sigCache *signature.Cache) *Machine {
	return &Machine{clientModel: clientModel, sigCache: sigCache}
}

// Done reports whether the machine has reached its terminal state (it has
// emitted message_stop).
func (m *Machine) Done() bool {
	return m.done
}

// Feed processes one upstream event and returns the Anthropic SSE events
// it produces (zero or more). An error return means the stream itself
// must fail (spec §4.C7, "Empty-chunk policy": a contentless chunk
// carrying a terminal finishReason is EmptyFinish(reason), which is
// always a Retry outcome per classify.Classify).
func (m *Machine) Feed(ev *upstream.Event) ([]SSEEvent, error) {
	var out []SSEEvent

	if m.st == stateInit {
		out = append(out, SSEEvent{Name: "message_start", Payload: apitypes.AnthropicMessageStart{
			Type: "message_start",
			Message: apitypes.AnthropicMessageStartMsg{
				ID:      "msg_" + uuid.NewString(),
				Type:    "message",
				Role:    "assistant",
				Model:   m.clientModel,
				Content: []apitypes.AnthropicPart{},
				Usage:   apitypes.AnthropicUsage{},
			},
		}})
		m.st = stateBlockPending
	}

	part := ev.FirstPart()
	finish := ev.FinishReason()

	if part.ThoughtSignature != "" {
		rid := ev.EffectiveResponseID()
		m.sigCache.Put(rid, part.ThoughtSignature)
		if rid != "" {
			// Also refresh the "latest" sentinel so a lookup with no
			// responseId (or one the cache hasn't seen) still finds the
			// most recent signature observed (spec §3, ThoughtSignatureCache).
			m.sigCache.Put("", part.ThoughtSignature)
		}
	}

	empty := part.Text == "" && !part.Thought && part.ThoughtSignature == "" && finish == ""

	if empty && finish == "" {
		return out, nil
	}

	if part.Text == "" && !part.Thought && part.ThoughtSignature == "" && finish != "" {
		if finish == "STOP" || finish == "MAX_TOKENS" {
			return out, &classify.EmptyFinishError{Reason: finish}
		}
	}

	kind := blockText
	if part.Thought {
		kind = blockThinking
	}

	if part.Text != "" || part.Thought {
		switch m.st {
		case stateBlockPending:
			out = append(out, m.openBlock(kind)...)
		case stateBlockOpen:
			if kind != m.openKind {
				out = append(out, m.closeBlock())
				out = append(out, m.openBlock(kind)...)
			}
		}

		if kind == blockText {
			out = append(out, SSEEvent{Name: "content_block_delta", Payload: apitypes.AnthropicContentBlockDelta{
				Type:  "content_block_delta",
				Index: m.blockIndex,
				Delta: apitypes.AnthropicDeltaBlock{Type: "text_delta", Text: part.Text},
			}})
		} else {
			// Upstream carries thinking content in the same "text" field
			// as regular text, distinguished only by the thought flag
			// (spec §3).
			out = append(out, SSEEvent{Name: "content_block_delta", Payload: apitypes.AnthropicContentBlockDelta{
				Type:  "content_block_delta",
				Index: m.blockIndex,
				Delta: apitypes.AnthropicDeltaBlock{Type: "thinking_delta", Thinking: part.Text},
			}})
		}
	}

	if finish != "" {
		if m.st == stateBlockOpen {
			out = append(out, m.closeBlock())
		}
		out = append(out, SSEEvent{Name: "message_delta", Payload: apitypes.AnthropicMessageDelta{
			Type:  "message_delta",
			Delta: apitypes.AnthropicMessageDeltaVal{StopReason: mapStopReason(finish)},
			Usage: apitypes.AnthropicUsage{},
		}})
		out = append(out, SSEEvent{Name: "message_stop", Payload: apitypes.AnthropicMessageStop{Type: "message_stop"}})
		m.st = stateEnd
		m.done = true
	}

	return out, nil
}

func (m *Machine) openBlock(kind blockKind) []SSEEvent {
	m.openKind = kind
	cbType := "text"
	if kind == blockThinking {
		cbType = "thinking"
	}
	m.st = stateBlockOpen
	return []SSEEvent{{Name: "content_block_start", Payload: apitypes.AnthropicContentBlockStart{
		Type:         "content_block_start",
		Index:        m.blockIndex,
		ContentBlock: apitypes.AnthropicContentBlock{Type: cbType},
	}}}
}

func (m *Machine) closeBlock() SSEEvent {
	ev := SSEEvent{Name: "content_block_stop", Payload: apitypes.AnthropicContentBlockStop{
		Type:  "content_block_stop",
		Index: m.blockIndex,
	}}
	m.blockIndex++
	m.st = stateBlockPending
	return ev
}

// mapStopReason implements spec §4.C7's stop_reason map.
func mapStopReason(reason string) string {
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
