package session

import (
	"math/rand/v2"
	"sync"

	"jobcrawl_nexus/internal/pacing"
)

// Identity is the client fingerprint presented by a session.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	Headers        map[string]string
	Viewport       pacing.Viewport
}

// DefaultUserAgents is used when no list is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// Identities hands out a random identity per session.
type Identities struct {
	mu             sync.Mutex
	rng            *rand.Rand
	userAgents     []string
	acceptLanguage string
	viewport       pacing.Viewport
	headers        map[string]string
}

func NewIdentities(userAgents []string, acceptLanguage string, viewport pacing.Viewport, headers map[string]string) *Identities {
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents
	}
	if acceptLanguage == "" {
		acceptLanguage = "en-US,en;q=0.9"
	}
	return &Identities{
		rng:            rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		userAgents:     userAgents,
		acceptLanguage: acceptLanguage,
		viewport:       viewport,
		headers:        headers,
	}
}

func (ids *Identities) Next() Identity {
	ids.mu.Lock()
	ua := ids.userAgents[ids.rng.IntN(len(ids.userAgents))]
	ids.mu.Unlock()

	headers := make(map[string]string, len(ids.headers))
	for k, v := range ids.headers {
		headers[k] = v
	}
	return Identity{
		UserAgent:      ua,
		AcceptLanguage: ids.acceptLanguage,
		Headers:        headers,
		Viewport:       ids.viewport,
	}
}

// requestHeaders merges identity headers with per-request headers, the
// latter taking precedence.
func (id Identity) requestHeaders(extra map[string]string) map[string]string {
	h := map[string]string{
		"User-Agent":      id.UserAgent,
		"Accept-Language": id.AcceptLanguage,
	}
	for k, v := range id.Headers {
		h[k] = v
	}
	for k, v := range extra {
		h[k] = v
	}
	for k, v := range h {
		if v == "" {
			delete(h, k)
		}
	}
	return h
}
