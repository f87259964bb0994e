// Package convert implements the Request Converter (spec §4.C4):
// translates OpenAI and Anthropic request bodies into the upstream's
// {contents, systemInstruction, generationConfig, ...} envelope.
package convert

import (
	"strings"

	"gravityproxy/internal/apitypes"
	"gravityproxy/internal/resolver"
	"gravityproxy/internal/signature"
	"gravityproxy/internal/upstream"
)

const (
	defaultTemperature         = 1.0
	defaultTopP                = 0.95
	defaultMaxOutputTokensOAI  = 8096
	defaultMaxOutputTokensAnth = 16384
	thinkingBudget             = 8191
)

// Options carries the per-call inputs the converter needs beyond the
// public request body itself.
type Options struct {
	Project   string
	RequestID string
	SessionID string
	Resolved  resolver.Resolved
	// ForOpenAI selects the tool-config / user-agent-adjacent behavior
	// from spec §4.C5: the OpenAI path sets
	// toolConfig.functionCallingConfig.mode = "VALIDATED"; the Anthropic
	// path omits it.
	ForOpenAI bool
}

// FromOpenAI builds an upstream.Request from an OpenAI chat-completion
// request.
func FromOpenAI(req *apitypes.OpenAIChatRequest, opts Options) upstream.Request {
	var systemParts []string
	var contents []upstream.Content

	for _, m := range req.Messages {
		if m.Role == "system" {
			if t := m.Text(); t != "" {
				systemParts = append(systemParts, t)
			}
			continue
		}

		role := m.Role
		if role == "assistant" {
			role = "model"
		}

		parts := []upstream.Part{{Text: m.Text()}}
		for _, img := range m.Images() {
			if id := parseDataURL(img.ImageURL.URL); id != nil {
				parts = append(parts, upstream.Part{InlineData: id})
			}
		}

		contents = append(contents, upstream.Content{Role: role, Parts: parts})
	}

	genConfig := upstream.GenerationConfig{
		Temperature:     ptrFloat(orDefault(req.Temperature, defaultTemperature)),
		TopP:            ptrFloat(orDefault(req.TopP, defaultTopP)),
		CandidateCount:  1,
		MaxOutputTokens: orDefaultInt(req.MaxTokens, defaultMaxOutputTokensOAI),
	}
	if opts.Resolved.ThinkingBudget {
		genConfig.ThinkingConfig = &upstream.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: thinkingBudget}
	}
	if opts.Resolved.ImageModel {
		genConfig.ImageConfig = &upstream.ImageConfig{AspectRatio: opts.Resolved.AspectRatio, HD: opts.Resolved.HD}
	}

	inner := upstream.InnerRequest{
		Contents:          contents,
		SystemInstruction: systemInstruction(systemParts),
		GenerationConfig:  genConfig,
		SessionID:         opts.SessionID,
	}
	if opts.ForOpenAI {
		inner.ToolConfig = &upstream.ToolConfig{
			FunctionCallingConfig: upstream.FunctionCallingConfig{Mode: "VALIDATED"},
		}
	}

	return upstream.Request{
		Project:   opts.Project,
		RequestID: opts.RequestID,
		Model:     opts.Resolved.UpstreamModel,
		UserAgent: "antigravity",
		Request:   inner,
	}
}

// FromAnthropic builds an upstream.Request from an Anthropic Messages
// request, including the thought-signature carry-forward described in
// spec §4.C4.
func FromAnthropic(req *apitypes.AnthropicChatRequest, opts Options, sigCache *signature.Cache) upstream.Request {
	var contents []upstream.Content

	lastAssistantIdx := -1
	for i, m := range req.Messages {
		if m.Role == "assistant" {
			lastAssistantIdx = i
		}
	}

	for i, m := range req.Messages {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}

		var parts []upstream.Part
		for _, p := range m.ContentParts() {
			switch p.Type {
			case "text":
				parts = append(parts, upstream.Part{Text: p.Text})
			case "image":
				if p.Source != nil {
					parts = append(parts, upstream.Part{InlineData: &upstream.InlineData{
						MimeType: p.Source.MediaType,
						Data:     p.Source.Data,
					}})
				}
			case "thinking":
				sig := p.Signature
				if i == lastAssistantIdx {
					if cached, ok := sigCache.Get(""); ok && sig == "" {
						sig = cached
					}
				}
				parts = append(parts, upstream.Part{Thought: true, ThoughtSignature: sig})
			}
		}
		if len(parts) == 0 {
			parts = []upstream.Part{{Text: ""}}
		}

		contents = append(contents, upstream.Content{Role: role, Parts: parts})
	}

	genConfig := upstream.GenerationConfig{
		Temperature:     ptrFloat(orDefault(req.Temperature, defaultTemperature)),
		TopP:            ptrFloat(orDefault(req.TopP, defaultTopP)),
		CandidateCount:  1,
		MaxOutputTokens: orDefaultInt(req.MaxTokens, defaultMaxOutputTokensAnth),
	}
	if opts.Resolved.ThinkingBudget {
		genConfig.ThinkingConfig = &upstream.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: thinkingBudget}
	}
	if opts.Resolved.ImageModel {
		genConfig.ImageConfig = &upstream.ImageConfig{AspectRatio: opts.Resolved.AspectRatio, HD: opts.Resolved.HD}
	}

	inner := upstream.InnerRequest{
		Contents:          contents,
		SystemInstruction: systemInstruction(systemPartsFromAnthropic(req.SystemText())),
		GenerationConfig:  genConfig,
		SessionID:         opts.SessionID,
	}

	return upstream.Request{
		Project:   opts.Project,
		RequestID: opts.RequestID,
		Model:     opts.Resolved.UpstreamModel,
		UserAgent: "antigravity",
		Request:   inner,
	}
}

func systemPartsFromAnthropic(text string) []string {
	if text == "" {
		return nil
	}
	return []string{text}
}

// systemInstruction folds system-role content into a single
// {role:"user", parts:[{text}]} instruction, sending an empty text if
// absent since the upstream requires the field (spec §4.C4).
func systemInstruction(parts []string) *upstream.Content {
	text := strings.Join(parts, "\n")
	return &upstream.Content{
		Role:  "user",
		Parts: []upstream.Part{{Text: text}},
	}
}

func parseDataURL(url string) *upstream.InlineData {
	const prefix = "data:"
	if !strings.HasPrefix(url, prefix) {
		return nil
	}
	rest := url[len(prefix):]
	semi := strings.Index(rest, ";")
	comma := strings.Index(rest, ",")
	if semi < 0 || comma < 0 || comma < semi {
		return nil
	}
	mime := rest[:semi]
	data := rest[comma+1:]
	return &upstream.InlineData{MimeType: mime, Data: data}
}

func ptrFloat(v float64) *float64 { return &v }

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func orDefaultInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
