// Package classify implements the Retry/Failure Classifier (spec §4.C9)
// and the small typed-error taxonomy referenced from spec §7's error
// kinds, so callers can recover structured fields via errors.As instead
// of re-parsing message strings the way the pure string matcher does.
package classify

import (
	"errors"
	"fmt"
	"strings"
)

// Outcome is the three-way result of classifying an error.
type Outcome int

const (
	// Fatal surfaces as a 500 (or dialect equivalent) with the upstream
	// message preserved; no further accounts are tried.
	Fatal Outcome = iota
	// RetryAccount means this account's credentials/binding are at
	// fault (403/404): the account itself should not be retried, only
	// a different one.
	RetryAccount
	// RetryQuota means the account hit a rate or quota limit.
	RetryQuota
	// RetryTransient means the failure was in the transport, not a
	// response the upstream chose to send.
	RetryTransient
)

// IsRetry reports whether Outcome is any of the Retry variants.
func (o Outcome) IsRetry() bool {
	return o == RetryAccount || o == RetryQuota || o == RetryTransient
}

// String labels the Outcome for metrics and logging.
func (o Outcome) String() string {
	switch o {
	case RetryAccount:
		return "retry_account"
	case RetryQuota:
		return "retry_quota"
	case RetryTransient:
		return "retry_transient"
	default:
		return "fatal"
	}
}

// EmptyFinishError is the EmptyFinish(reason) error kind from spec §7:
// the upstream closed the stream with a terminal finishReason but no
// content, which is always a Retry outcome (spec §4.C9).
type EmptyFinishError struct {
	Reason string
}

func (e *EmptyFinishError) Error() string {
	return fmt.Sprintf("EmptyFinish(%s)", e.Reason)
}

// NoAccountsError is the NoAccounts error kind from spec §7.
type NoAccountsError struct{}

func (e *NoAccountsError) Error() string { return "no accounts available" }

// ConfigMissingError is the ConfigMissing(field) error kind from spec §7.
type ConfigMissingError struct {
	Field string
}

func (e *ConfigMissingError) Error() string {
	return fmt.Sprintf("missing required config field: %s", e.Field)
}

var retryAccountSubstrings = []string{"404", "NOT_FOUND", "403", "PERMISSION_DENIED"}

var retryQuotaSubstrings = []string{
	"429", "RESOURCE_EXHAUSTED", "QUOTA_EXHAUSTED", "RATE_LIMIT_EXCEEDED",
	"The request has been rate limited",
}

var retryTransientSubstrings = []string{
	"closed connection", "error sending request", "operation timed out",
}

// Classify applies spec §4.C9's substring match table to err's message,
// with one addition: an *EmptyFinishError is always RetryQuota-equivalent
// (spec calls EmptyFinish(MAX_TOKENS)/EmptyFinish(STOP) "Retry" without
// further qualifying the reason bucket; RetryTransient is reserved for
// genuine transport failures).
func Classify(err error) Outcome {
	if err == nil {
		return Fatal
	}

	var ef *EmptyFinishError
	if errors.As(err, &ef) {
		return RetryQuota
	}

	msg := err.Error()

	for _, s := range retryAccountSubstrings {
		if strings.Contains(msg, s) {
			return RetryAccount
		}
	}
	for _, s := range retryQuotaSubstrings {
		if strings.Contains(msg, s) {
			return RetryQuota
		}
	}
	for _, s := range retryTransientSubstrings {
		if strings.Contains(msg, s) {
			return RetryTransient
		}
	}
	return Fatal
}
