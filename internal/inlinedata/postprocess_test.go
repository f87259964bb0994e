package inlinedata

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gravityproxy/internal/upstream"
)

func sampleEvent() *upstream.Event {
	return &upstream.Event{
		CandidatesRaw: []upstream.Candidate{{
			Content: upstream.CandidateContent{Parts: []upstream.EventPart{
				{Text: "before"},
				{InlineData: &upstream.InlineData{MimeType: "image/png", Data: "AAAA"}},
			}},
		}},
	}
}

func TestProcessRewritesInlineData(t *testing.T) {
	ev := sampleEvent()
	out := Process(ev)

	parts := out.Candidates()[0].Content.Parts
	assert.Equal(t, "before", parts[0].Text)
	assert.Nil(t, parts[1].InlineData)
	assert.Contains(t, parts[1].Text, "data:image/png;base64,AAAA")
}

func TestProcessIdempotent(t *testing.T) {
	ev := sampleEvent()
	once := Process(ev)
	onceParts := append([]upstream.EventPart{}, once.Candidates()[0].Content.Parts...)

	twice := Process(once)
	twiceParts := twice.Candidates()[0].Content.Parts

	assert.Equal(t, onceParts, twiceParts)
}
