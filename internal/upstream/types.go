// Package upstream implements the HTTP client wrapper (spec §4.C1) and the
// dispatcher (spec §4.C5) that speaks the Antigravity v1internal dialect.
package upstream

import "encoding/json"

// Request is the envelope sent to the Antigravity upstream (spec §3,
// "UpstreamRequest"). The wire field names below follow the teacher's own
// hand-rolled-struct approach in provider/google.go, extended with the
// project/session/requestId wrapper that the public Gemini API does not
// have — see SPEC_FULL.md for why google.golang.org/genai cannot model
// this envelope.
type Request struct {
	Project   string      `json:"project"`
	RequestID string      `json:"requestId"`
	Model     string      `json:"model"`
	UserAgent string      `json:"userAgent"`
	Request   InnerRequest `json:"request"`
}

// InnerRequest is the `request` sub-object of Request.
type InnerRequest struct {
	Contents          []Content          `json:"contents"`
	SystemInstruction *Content           `json:"systemInstruction,omitempty"`
	GenerationConfig  GenerationConfig   `json:"generationConfig"`
	SessionID         string             `json:"sessionId,omitempty"`
	ToolConfig        *ToolConfig        `json:"toolConfig,omitempty"`
}

// Content is one entry of Contents: a role plus an ordered list of Parts.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is a union of {text}, {inlineData}, {thought,thoughtSignature},
// {functionCall}, {functionResponse} (spec §3).
type Part struct {
	Text             string          `json:"text,omitempty"`
	InlineData       *InlineData     `json:"inlineData,omitempty"`
	Thought          bool            `json:"thought,omitempty"`
	ThoughtSignature string          `json:"thoughtSignature,omitempty"`
	FunctionCall     json.RawMessage `json:"functionCall,omitempty"`
	FunctionResponse json.RawMessage `json:"functionResponse,omitempty"`
}

// InlineData carries a base64-encoded blob (e.g. a generated image).
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GenerationConfig mirrors the upstream's generationConfig object,
// including the optional thinking-budget switch from spec §4.C3.
type GenerationConfig struct {
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	CandidateCount  int             `json:"candidateCount,omitempty"`
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *ThinkingConfig `json:"thinkingConfig,omitempty"`
	ImageConfig     *ImageConfig    `json:"imageConfig,omitempty"`
}

// ThinkingConfig enables chain-of-thought on upstream models that support it.
type ThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  int  `json:"thinkingBudget"`
}

// ImageConfig carries aspect ratio / resolution hints for image models.
type ImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	HD          bool   `json:"hd,omitempty"`
}

// ToolConfig is only set on the OpenAI path (spec §4.C5): the Anthropic
// path omits it as a workaround for MALFORMED_FUNCTION_CALL responses.
type ToolConfig struct {
	FunctionCallingConfig FunctionCallingConfig `json:"functionCallingConfig"`
}

type FunctionCallingConfig struct {
	Mode string `json:"mode"`
}

// Event is a parsed upstream SSE line or unary JSON body (spec §3,
// "UpstreamEvent"). Some upstream variants wrap everything under a
// top-level `response` field; Candidates() tries both, per §9's design
// note on schema variance.
type Event struct {
	ResponseID     string          `json:"responseId,omitempty"`
	CandidatesRaw  []Candidate     `json:"candidates,omitempty"`
	Response       *struct {
		ResponseID string      `json:"responseId,omitempty"`
		Candidates []Candidate `json:"candidates,omitempty"`
	} `json:"response,omitempty"`
	PromptFeedback json.RawMessage `json:"promptFeedback,omitempty"`
}

// Candidate is one entry of Event's candidates array.
type Candidate struct {
	Content      CandidateContent `json:"content"`
	FinishReason string           `json:"finishReason,omitempty"`
}

// CandidateContent holds the part list of one candidate.
type CandidateContent struct {
	Parts []EventPart `json:"parts"`
}

// EventPart is one part of a candidate's content, as observed on events
// (as opposed to Part, which is what this proxy sends upstream).
type EventPart struct {
	Text             string      `json:"text,omitempty"`
	Thought          bool        `json:"thought,omitempty"`
	ThoughtSignature string      `json:"thoughtSignature,omitempty"`
	InlineData       *InlineData `json:"inlineData,omitempty"`
}

// Candidates resolves the candidates array, trying the unwrapped shape
// first and falling back to the `response.candidates` wrapped shape.
// Never guesses: if neither is present it returns nil.
func (e Event) Candidates() []Candidate {
	if len(e.CandidatesRaw) > 0 {
		return e.CandidatesRaw
	}
	if e.Response != nil && len(e.Response.Candidates) > 0 {
		return e.Response.Candidates
	}
	return nil
}

// EffectiveResponseID resolves responseId, trying the unwrapped field
// first and falling back to the wrapped one.
func (e Event) EffectiveResponseID() string {
	if e.ResponseID != "" {
		return e.ResponseID
	}
	if e.Response != nil {
		return e.Response.ResponseID
	}
	return ""
}

// FirstPart returns candidates[0].content.parts[0], or the zero value if
// either is absent.
func (e Event) FirstPart() EventPart {
	cands := e.Candidates()
	if len(cands) == 0 || len(cands[0].Content.Parts) == 0 {
		return EventPart{}
	}
	return cands[0].Content.Parts[0]
}

// FinishReason returns candidates[0].finishReason, or "" if absent.
func (e Event) FinishReason() string {
	cands := e.Candidates()
	if len(cands) == 0 {
		return ""
	}
	return cands[0].FinishReason
}
