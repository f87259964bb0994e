package upstream

import (
	"log"
	"net/http"
	"net/url"
	"time"
)

// NewClient builds an outbound HTTP client honoring an optional upstream
// proxy (spec §4.C1). If proxyEnabled is true and proxyURL parses, every
// request routes through it; a parse failure is logged and the unproxied
// client is returned. No retries happen at this layer — retry policy
// belongs to the orchestrator (C10), not the transport.
func NewClient(timeout time.Duration, proxyEnabled bool, proxyURL string) *http.Client {
	transport := &http.Transport{}

	if proxyEnabled && proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			log.Printf("invalid upstream proxy url %q: %v (continuing unproxied)", proxyURL, err)
			return &http.Client{Timeout: timeout}
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
