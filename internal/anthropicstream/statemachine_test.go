package anthropicstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gravityproxy/internal/signature"
	"gravityproxy/internal/upstream"
)

func eventNames(evs []SSEEvent) []string {
	names := make([]string, len(evs))
	for i, e := range evs {
		names[i] = e.Name
	}
	return names
}

func TestNonemptyTextResponseEventSequence(t *testing.T) {
	m := New("claude-3-5-sonnet", signature.New(0))

	var allNames []string

	evs, err := m.Feed(&upstream.Event{
		CandidatesRaw: []upstream.Candidate{{
			Content: upstream.CandidateContent{Parts: []upstream.EventPart{{Text: "Hello"}}},
		}},
	})
	require.NoError(t, err)
	allNames = append(allNames, eventNames(evs)...)

	evs, err = m.Feed(&upstream.Event{
		CandidatesRaw: []upstream.Candidate{{
			Content:      upstream.CandidateContent{Parts: []upstream.EventPart{{Text: " world"}}},
			FinishReason: "STOP",
		}},
	})
	require.NoError(t, err)
	allNames = append(allNames, eventNames(evs)...)

	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, allNames)
	assert.True(t, m.Done())
}

func TestEmptyFinishTriggersRetry(t *testing.T) {
	m := New("claude-3-5-sonnet", signature.New(0))

	_, err := m.Feed(&upstream.Event{
		CandidatesRaw: []upstream.Candidate{{
			Content:      upstream.CandidateContent{Parts: []upstream.EventPart{{}}},
			FinishReason: "MAX_TOKENS",
		}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_TOKENS")
}

func TestSignatureCapture(t *testing.T) {
	cache := signature.New(0)
	m := New("claude-3-5-sonnet", cache)

	_, err := m.Feed(&upstream.Event{
		ResponseID: "R1",
		CandidatesRaw: []upstream.Candidate{{
			Content: upstream.CandidateContent{Parts: []upstream.EventPart{{
				Thought: true, ThoughtSignature: "SIG",
			}}},
		}},
	})
	require.NoError(t, err)

	sig, ok := cache.Get("R1")
	require.True(t, ok)
	assert.Equal(t, "SIG", sig)
}

func TestEmptyChunkDroppedSilently(t *testing.T) {
	m := New("claude-3-5-sonnet", signature.New(0))

	evs, err := m.Feed(&upstream.Event{
		CandidatesRaw: []upstream.Candidate{{
			Content: upstream.CandidateContent{Parts: []upstream.EventPart{{}}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"message_start"}, eventNames(evs))
}
