package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// openAIUserAgent is sent on the OpenAI-originated path (spec §4.C5).
	openAIUserAgent = "antigravity/1.11.3 windows/amd64"
	// anthropicUserAgent is sent on the Anthropic-originated path.
	anthropicUserAgent = "claude-cli/1.0.83 (external, cli)"

	anthropicBeta = "claude-code-20250219,interleaved-thinking-2025-05-14"

	upstreamHost = "daily-cloudcode-pa.sandbox.googleapis.com"
)

// Dialect selects which header set (and tool-config behavior) a dispatch
// call uses, per spec §4.C5.
type Dialect int

const (
	DialectOpenAI Dialect = iota
	DialectAnthropic
)

// StatusError is the error kind UpstreamStatus(code, body) from spec §7:
// raised when the upstream responds with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

// TransportError is the error kind StreamTransport(msg) from spec §7: a
// failure in the HTTP transport itself (connect, send, timeout) rather
// than a response the upstream chose to send.
type TransportError struct {
	Msg string
}

func (e *TransportError) Error() string {
	return e.Msg
}

// Dispatcher issues streamGenerateContent / generateContent calls against
// the Antigravity upstream (spec §4.C5).
type Dispatcher struct {
	client  *http.Client
	baseURL string
}

// NewDispatcher builds a Dispatcher bound to client and baseURL (normally
// https://daily-cloudcode-pa.sandbox.googleapis.com, overridable for
// cassette-backed tests).
func NewDispatcher(client *http.Client, baseURL string) *Dispatcher {
	return &Dispatcher{client: client, baseURL: baseURL}
}

func (d *Dispatcher) buildRequest(ctx context.Context, path, accessToken string, dialect Dialect, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Host = upstreamHost

	switch dialect {
	case DialectAnthropic:
		req.Header.Set("User-Agent", anthropicUserAgent)
		req.Header.Set("X-App", "cli")
		req.Header.Set("Anthropic-Beta", anthropicBeta)
		req.Header.Set("X-Stainless-Lang", "js")
		req.Header.Set("X-Stainless-Package-Version", "0.27.3")
		req.Header.Set("X-Stainless-OS", "Windows")
		req.Header.Set("X-Stainless-Runtime", "node")
	default:
		req.Header.Set("User-Agent", openAIUserAgent)
	}
	return req, nil
}

// Stream issues a streamGenerateContent call and returns an EventStream
// over the SSE body. The caller owns closing it via EventStream.Close.
func (d *Dispatcher) Stream(ctx context.Context, accessToken string, dialect Dialect, body []byte) (*EventStream, error) {
	req, err := d.buildRequest(ctx, "/v1internal:streamGenerateContent?alt=sse", accessToken, dialect, body)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &TransportError{Msg: fmt.Sprintf("error sending request: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Status: resp.StatusCode, Body: string(b)}
	}

	return &EventStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// Unary issues a generateContent call and returns the decoded JSON event.
func (d *Dispatcher) Unary(ctx context.Context, accessToken string, dialect Dialect, body []byte) (*Event, error) {
	req, err := d.buildRequest(ctx, "/v1internal:generateContent", accessToken, dialect, body)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &TransportError{Msg: fmt.Sprintf("error sending request: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Status: resp.StatusCode, Body: string(b)}
	}

	var ev Event
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		return nil, fmt.Errorf("decoding upstream response: %w", err)
	}
	return &ev, nil
}

// EventStream wraps an SSE response body with a line scanner, matching
// the teacher's bufio.Scanner-over-response-body idiom
// (provider/google.go's ChatCompletionStream).
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Close releases the underlying response body. Callers must call this
// exactly once, whether or not the stream was read to completion.
func (s *EventStream) Close() error {
	return s.body.Close()
}

// Next reads the next SSE data line and decodes it into an Event. It
// returns (nil, false, io.EOF) at clean stream end. A literal "[DONE]"
// payload is reported via done=true with a nil event and nil error.
func (s *EventStream) Next() (ev *Event, done bool, err error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return nil, true, nil
		}
		var e Event
		if uerr := json.Unmarshal([]byte(payload), &e); uerr != nil {
			return nil, false, fmt.Errorf("decoding upstream event: %w", uerr)
		}
		return &e, false, nil
	}
	if serr := s.scanner.Err(); serr != nil {
		return nil, false, &TransportError{Msg: fmt.Sprintf("reading upstream stream: %v", serr)}
	}
	return nil, false, io.EOF
}
