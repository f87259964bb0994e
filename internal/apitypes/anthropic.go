package apitypes

import "encoding/json"

// AnthropicPart is the tagged union {Text, Image, Thinking} from spec §3.
type AnthropicPart struct {
	Type string `json:"type"`

	// Text
	Text string `json:"text,omitempty"`

	// Image (type == "image"), source is a base64 data block.
	Source *AnthropicImageSource `json:"source,omitempty"`

	// Thinking (type == "thinking")
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// AnthropicMessage is one entry of an Anthropic Messages request. Content
// may be a plain string or an array of AnthropicPart; ContentParts()
// normalizes it.
type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentParts normalizes Content into a part list regardless of whether
// the client sent a bare string or a typed-part array.
func (m AnthropicMessage) ContentParts() []AnthropicPart {
	if len(m.Content) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return []AnthropicPart{{Type: "text", Text: s}}
	}
	var parts []AnthropicPart
	if err := json.Unmarshal(m.Content, &parts); err == nil {
		return parts
	}
	return nil
}

// AnthropicChatRequest is the Anthropic /v1/messages request body.
type AnthropicChatRequest struct {
	Model       string             `json:"model"`
	Messages    []AnthropicMessage `json:"messages"`
	System      json.RawMessage    `json:"system,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	MaxTokens   *int               `json:"max_tokens,omitempty"`
	Metadata    *AnthropicMetadata `json:"metadata,omitempty"`
}

// AnthropicMetadata is Anthropic's request metadata object; UserID is a
// stable per-end-user identifier the proxy uses as the token pool's
// session-affinity key when present (see internal/tokenpool.Provider.NextFor).
type AnthropicMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

// SystemText flattens the system field, which Anthropic allows as either a
// bare string or a list of text blocks.
func (r AnthropicChatRequest) SystemText() string {
	if len(r.System) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.System, &s); err == nil {
		return s
	}
	var blocks []AnthropicPart
	if err := json.Unmarshal(r.System, &blocks); err == nil {
		out := ""
		for i, b := range blocks {
			if i > 0 {
				out += "\n"
			}
			out += b.Text
		}
		return out
	}
	return ""
}

// AnthropicUsage reports token counts in both streaming and unary envelopes.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicMessageResponse is the non-streaming /v1/messages response
// envelope (spec §4.C10, Anthropic unary).
type AnthropicMessageResponse struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Role         string               `json:"role"`
	Model        string               `json:"model"`
	Content      []AnthropicPart      `json:"content"`
	StopReason   string               `json:"stop_reason"`
	StopSequence *string              `json:"stop_sequence"`
	Usage        AnthropicUsage       `json:"usage"`
}

// Anthropic SSE event payloads (spec §4.C7). Each is emitted wrapped as
// `event: <name>\ndata: <json>\n\n` by the HTTP surface.

type AnthropicMessageStart struct {
	Type    string                   `json:"type"`
	Message AnthropicMessageStartMsg `json:"message"`
}

type AnthropicMessageStartMsg struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content []AnthropicPart `json:"content"`
	Usage   AnthropicUsage  `json:"usage"`
}

type AnthropicContentBlockStart struct {
	Type         string               `json:"type"`
	Index        int                  `json:"index"`
	ContentBlock AnthropicContentBlock `json:"content_block"`
}

type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type AnthropicContentBlockDelta struct {
	Type  string              `json:"type"`
	Index int                 `json:"index"`
	Delta AnthropicDeltaBlock `json:"delta"`
}

type AnthropicDeltaBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

type AnthropicContentBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type AnthropicMessageDelta struct {
	Type  string                   `json:"type"`
	Delta AnthropicMessageDeltaVal `json:"delta"`
	Usage AnthropicUsage           `json:"usage"`
}

type AnthropicMessageDeltaVal struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type AnthropicMessageStop struct {
	Type string `json:"type"`
}

// AnthropicError is the Anthropic-dialect error envelope (spec §6).
type AnthropicError struct {
	Type  string             `json:"type"`
	Error AnthropicErrorBody `json:"error"`
}

type AnthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
