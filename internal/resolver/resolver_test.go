package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gravityproxy/internal/mapping"
)

func TestResolveModelAlias(t *testing.T) {
	r := Resolve(EndpointOpenAI, "gemini-3-flash", mapping.Snapshot{}, ImageOptions{})
	assert.Equal(t, "gemini-3-flash-preview", r.UpstreamModel)
}

func TestResolveAnthropicSubstringMap(t *testing.T) {
	snap := mapping.NewStaticSnapshot(map[string]string{"claude-3-5-sonnet": "internal-sonnet"})
	r := Resolve(EndpointAnthropic, "claude-3-5-sonnet-20240620", snap, ImageOptions{})
	assert.Equal(t, "gemini-3-pro-preview", r.UpstreamModel)
}

func TestResolveHaiku(t *testing.T) {
	r := Resolve(EndpointAnthropic, "claude-3-haiku-20240307", mapping.Snapshot{}, ImageOptions{})
	assert.Equal(t, "gemini-2.0-flash-exp", r.UpstreamModel)
}

func TestResolveThinkingCapable(t *testing.T) {
	r := Resolve(EndpointAnthropic, "claude-3-7-sonnet-20250219", mapping.Snapshot{}, ImageOptions{})
	assert.True(t, r.ThinkingBudget)
}

func TestResolveImageSuffix(t *testing.T) {
	r := Resolve(EndpointOpenAI, "gemini-3-pro-image-16x9-4k", mapping.Snapshot{}, ImageOptions{})
	assert.Equal(t, "gemini-3-pro-image", r.UpstreamModel)
	assert.True(t, r.ImageModel)
	assert.Equal(t, "16:9", r.AspectRatio)
	assert.True(t, r.HD)
}

func TestResolveImageExplicitSizeOverridesSuffix(t *testing.T) {
	r := Resolve(EndpointOpenAI, "gemini-3-pro-image-16x9", mapping.Snapshot{}, ImageOptions{
		Size: "1024x1792",
	})
	assert.Equal(t, "9:16", r.AspectRatio)
}

func TestResolveImageExtraAspectRatioHighestPrecedence(t *testing.T) {
	r := Resolve(EndpointOpenAI, "gemini-3-pro-image-16x9", mapping.Snapshot{}, ImageOptions{
		ExtraAspectRatio: "4:3",
		Size:             "1024x1792",
	})
	assert.Equal(t, "4:3", r.AspectRatio)
}

func TestResolveImageQualityHDPrecedence(t *testing.T) {
	r := Resolve(EndpointOpenAI, "gemini-3-pro-image-1x1", mapping.Snapshot{}, ImageOptions{
		Quality: "hd",
	})
	assert.True(t, r.HD)
}

func TestResolveDefaultPassThrough(t *testing.T) {
	r := Resolve(EndpointOpenAI, "gemini-2.0-flash-exp", mapping.Snapshot{}, ImageOptions{})
	assert.Equal(t, "gemini-2.0-flash-exp", r.UpstreamModel)
}
