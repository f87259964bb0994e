package upstream_test

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/cassette"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"

	"gravityproxy/internal/upstream"
)

// newReplayDispatcher builds a Dispatcher whose *http.Client replays the
// recorded cassette instead of hitting the real Antigravity upstream,
// matching requests by method and URL only (body varies run to run because
// it carries a fresh requestId).
func newReplayDispatcher(t *testing.T) *upstream.Dispatcher {
	t.Helper()

	r, err := recorder.New(
		"testdata/cassettes/dispatcher",
		recorder.WithMode(recorder.ModeReplayOnly),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Stop() })

	r.SetMatcher(func(req *http.Request, i cassette.Request) bool {
		return req.Method == i.Method && req.URL.String() == i.URL
	})
	r.SetReplayableInteractions(false)

	return upstream.NewDispatcher(r.GetDefaultClient(), "https://daily-cloudcode-pa.sandbox.googleapis.com")
}

func TestDispatcherStreamReplaysCassette(t *testing.T) {
	d := newReplayDispatcher(t)

	stream, err := d.Stream(context.Background(), "test-token", upstream.DialectOpenAI, []byte("{}"))
	require.NoError(t, err)
	defer stream.Close()

	var chunks []string
	for {
		ev, done, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if done {
			break
		}
		chunks = append(chunks, ev.FirstPart().Text)
	}

	assert.Equal(t, []string{"Hel", "lo"}, chunks)
}

func TestDispatcherUnaryReplaysCassette(t *testing.T) {
	d := newReplayDispatcher(t)

	ev, err := d.Unary(context.Background(), "test-token", upstream.DialectOpenAI, []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, "unary reply", ev.FirstPart().Text)
	assert.Equal(t, "STOP", ev.FinishReason())
}

func TestDispatcherStreamRetryableStatus(t *testing.T) {
	d := newReplayDispatcher(t)

	// First interaction pair (stream, unary) must be consumed before the
	// third (error) interaction is reachable for the same URL+method.
	_, _ = d.Stream(context.Background(), "test-token", upstream.DialectOpenAI, []byte("{}"))
	_, _ = d.Unary(context.Background(), "test-token", upstream.DialectOpenAI, []byte("{}"))

	_, err := d.Stream(context.Background(), "test-token", upstream.DialectOpenAI, []byte("{}"))
	require.Error(t, err)

	var statusErr *upstream.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 429, statusErr.Status)
}
