package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Outcome
	}{
		{"403 permission denied", errors.New("upstream status 403: PERMISSION_DENIED"), RetryAccount},
		{"404 not found", errors.New("upstream status 404: NOT_FOUND"), RetryAccount},
		{"429 rate limited", errors.New("upstream status 429: RESOURCE_EXHAUSTED"), RetryQuota},
		{"quota exhausted string", errors.New("QUOTA_EXHAUSTED: try again later"), RetryQuota},
		{"transient closed connection", errors.New("closed connection to upstream"), RetryTransient},
		{"transient send error", errors.New("error sending request to upstream"), RetryTransient},
		{"empty finish max tokens", &EmptyFinishError{Reason: "MAX_TOKENS"}, RetryQuota},
		{"unrelated fatal error", errors.New("malformed json body"), Fatal},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Classify(c.err))
		})
	}
}

func TestOutcomeIsRetry(t *testing.T) {
	assert.True(t, RetryAccount.IsRetry())
	assert.True(t, RetryQuota.IsRetry())
	assert.True(t, RetryTransient.IsRetry())
	assert.False(t, Fatal.IsRetry())
}
