// Package resolver implements the Model Name Resolver (spec §4.C3):
// two-stage mapping from a client-requested model name to an upstream
// model id, plus feature inference (thinking, image, aspect ratio).
package resolver

import (
	"strings"

	"gravityproxy/internal/mapping"
)

// Endpoint identifies which public dialect a request arrived on, since
// phase 1 (mapping lookup) and several phase-2 rules only apply to the
// Anthropic path (spec §4.C3).
type Endpoint int

const (
	EndpointOpenAI Endpoint = iota
	EndpointAnthropic
)

// Resolved carries the resolver's full output: the upstream model id plus
// the feature flags inferred from the original client-declared string.
type Resolved struct {
	UpstreamModel  string
	ThinkingBudget bool
	ImageModel     bool
	AspectRatio    string
	HD             bool
}

// ImageOptions collects the inputs needed to resolve aspect ratio / HD for
// an image model, reflecting the precedence rules in spec §4.C3.
type ImageOptions struct {
	// ExtraAspectRatio is extra.aspectRatio or extra.aspect_ratio from the
	// OpenAI request's free-form extra bag. Highest precedence.
	ExtraAspectRatio string
	// Size is the OpenAI request's explicit "size" field (e.g. "1024x1792").
	Size string
	// Quality is the OpenAI request's "quality" field; "hd" forces HD.
	Quality string
	// ExtraImageSize is extra.imageSize ("4K" or "hd").
	ExtraImageSize string
}

var sizeToAspect = map[string]string{
	"1024x1792": "9:16",
	"1792x1024": "16:9",
	"768x1024":  "3:4",
	"1024x768":  "4:3",
	"1024x1024": "1:1",
}

// Resolve implements the full two-phase resolution plus feature
// inference for a client-declared model string.
func Resolve(endpoint Endpoint, clientModel string, snap mapping.Snapshot, opts ImageOptions) Resolved {
	phase1 := clientModel
	if endpoint == EndpointAnthropic {
		phase1 = snap.Resolve(clientModel)
	}

	upstream := applyAlias(endpoint, phase1)

	r := Resolved{
		UpstreamModel:  upstream,
		ThinkingBudget: isThinkingCapable(clientModel),
		ImageModel:     isImageModel(clientModel),
	}

	if r.ImageModel {
		r.AspectRatio, r.HD = resolveImageOptions(clientModel, opts)
	}

	return r
}

// applyAlias implements spec §4.C3 phase 2: lowercased match, first-match
// wins.
func applyAlias(endpoint Endpoint, name string) string {
	lower := strings.ToLower(name)

	switch {
	case lower == "gemini-3-flash":
		return "gemini-3-flash-preview"
	case lower == "gemini-3-pro-high":
		return "gemini-3-pro-preview"
	case strings.HasPrefix(lower, "gemini-3-pro-image"):
		return "gemini-3-pro-image"
	case strings.Contains(lower, "gemini-"):
		return name
	case strings.Contains(lower, "thinking"):
		return name
	case endpoint == EndpointAnthropic && strings.Contains(lower, "sonnet"):
		return "gemini-3-pro-preview"
	case endpoint == EndpointAnthropic && strings.Contains(lower, "haiku"):
		return "gemini-2.0-flash-exp"
	case strings.Contains(lower, "opus"):
		return "gemini-3-pro-preview"
	case endpoint == EndpointAnthropic && strings.Contains(lower, "claude"):
		return "gemini-2.5-flash-thinking"
	default:
		return name
	}
}

// isThinkingCapable implements the thinking-capable flag from spec
// §4.C3: contains any of {sonnet-3-7, thinking, claude-3-7}.
func isThinkingCapable(clientModel string) bool {
	lower := strings.ToLower(clientModel)
	for _, s := range []string{"sonnet-3-7", "thinking", "claude-3-7"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// isImageModel implements the image-model flag: contains gemini-3-pro-image.
func isImageModel(clientModel string) bool {
	return strings.Contains(strings.ToLower(clientModel), "gemini-3-pro-image")
}

// resolveImageOptions implements spec §4.C3's aspect-ratio and
// HD-resolution precedence rules.
//
// Aspect ratio precedence (highest first): extra.aspectRatio/aspect_ratio
// -> explicit size mapping -> model suffix -> default "1:1".
//
// HD precedence: quality=="hd" -> explicit; else extra.imageSize in
// {"4K","hd"} -> true; else suffix flag; else false.
func resolveImageOptions(clientModel string, opts ImageOptions) (aspect string, hd bool) {
	suffixAspect, suffixHD := parseImageSuffix(clientModel)

	switch {
	case opts.ExtraAspectRatio != "":
		aspect = opts.ExtraAspectRatio
	case opts.Size != "":
		if a, ok := sizeToAspect[opts.Size]; ok {
			aspect = a
		} else {
			aspect = "1:1"
		}
	case suffixAspect != "":
		aspect = suffixAspect
	default:
		aspect = "1:1"
	}

	switch {
	case strings.EqualFold(opts.Quality, "hd"):
		hd = true
	case opts.ExtraImageSize == "4K" || strings.EqualFold(opts.ExtraImageSize, "hd"):
		hd = true
	case suffixHD:
		hd = true
	default:
		hd = false
	}

	return aspect, hd
}

var suffixAspectTokens = map[string]string{
	"16x9": "16:9",
	"9x16": "9:16",
	"4x3":  "4:3",
	"3x4":  "3:4",
	"1x1":  "1:1",
}

// parseImageSuffix extracts aspect-ratio and HD hints from a
// gemini-3-pro-image-<suffix> client model string, e.g.
// "gemini-3-pro-image-16x9-4k".
func parseImageSuffix(clientModel string) (aspect string, hd bool) {
	lower := strings.ToLower(clientModel)
	for _, seg := range strings.Split(lower, "-") {
		if a, ok := suffixAspectTokens[seg]; ok {
			aspect = a
		}
		if seg == "4k" || seg == "hd" {
			hd = true
		}
	}
	return aspect, hd
}
