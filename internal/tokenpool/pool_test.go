package tokenpool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gravityproxy/internal/tokenpool"
)

func threeTokens() []tokenpool.Token {
	return []tokenpool.Token{
		{AccountIdentifier: "a", AccessToken: "tok-a", ProjectID: "proj"},
		{AccountIdentifier: "b", AccessToken: "tok-b", ProjectID: "proj"},
		{AccountIdentifier: "c", AccessToken: "tok-c", ProjectID: "proj"},
	}
}

func TestStaticPoolNextRoundRobin(t *testing.T) {
	p := tokenpool.NewStaticPool(threeTokens())

	var seen []string
	for i := 0; i < 6; i++ {
		tok, ok := p.Next()
		assert.True(t, ok)
		seen = append(seen, tok.AccountIdentifier)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, seen)
}

func TestStaticPoolNextEmptyPool(t *testing.T) {
	p := tokenpool.NewStaticPool(nil)
	_, ok := p.Next()
	assert.False(t, ok)
	assert.Equal(t, 0, p.Len())
}

func TestStaticPoolNextForSessionAffinity(t *testing.T) {
	p := tokenpool.NewStaticPool(threeTokens())

	first, ok := p.NextFor("session-123", 0)
	assert.True(t, ok)

	// Repeated attempt==0 calls for the same session key must keep
	// landing on the same account, since the underlying cursor still
	// advances but NextFor re-derives the preferred account each time.
	second, ok := p.NextFor("session-123", 0)
	assert.True(t, ok)
	assert.Equal(t, first.AccountIdentifier, second.AccountIdentifier)
}

func TestStaticPoolNextForFallsBackOnRetry(t *testing.T) {
	p := tokenpool.NewStaticPool(threeTokens())

	_, ok := p.NextFor("session-123", 0)
	assert.True(t, ok)

	// attempt > 0 must ignore session affinity and behave like Next().
	tok, ok := p.NextFor("session-123", 1)
	assert.True(t, ok)
	assert.NotEmpty(t, tok.AccountIdentifier)
}

func TestStaticPoolLen(t *testing.T) {
	p := tokenpool.NewStaticPool(threeTokens())
	assert.Equal(t, 3, p.Len())
}
