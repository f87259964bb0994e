// Package inlinedata implements the Inline-Data Post-processor (spec
// §4.C8): rewrites upstream base64 image parts into markdown image tags.
package inlinedata

import (
	"fmt"

	"gravityproxy/internal/upstream"
)

// Process walks candidates[*].content.parts[*] and replaces every part
// carrying InlineData with a text part holding a markdown image tag. All
// other parts are preserved unchanged. Process is idempotent: a part
// already rewritten into markdown carries no InlineData, so a second
// pass leaves it untouched (spec §8, testable property 5).
func Process(ev *upstream.Event) *upstream.Event {
	cands := ev.Candidates()
	for i := range cands {
		parts := cands[i].Content.Parts
		for j, p := range parts {
			if p.InlineData == nil {
				continue
			}
			parts[j] = upstream.EventPart{
				Text: fmt.Sprintf("\n\n![Generated Image](data:%s;base64,%s)\n\n", p.InlineData.MimeType, p.InlineData.Data),
			}
		}
	}
	return ev
}
