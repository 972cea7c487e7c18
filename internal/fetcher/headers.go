package fetcher

import (
	"math/rand"
	"net/http"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
}

var acceptLanguages = []string{
	"en-GB,en;q=0.9",
	"en-US,en;q=0.8",
	"en-IE,en;q=0.9,en-GB;q=0.8",
}

// HeaderSource produces browser-like request headers, picking a user agent at
// random for every request.
type HeaderSource struct {
	userAgents []string
}

// NewHeaderSource uses userAgents, or a built-in list when empty.
func NewHeaderSource(userAgents []string) *HeaderSource {
	if len(userAgents) == 0 {
		userAgents = defaultUserAgents
	}
	return &HeaderSource{userAgents: userAgents}
}

// Apply sets the request headers on h.
func (s *HeaderSource) Apply(h http.Header) {
	h.Set("User-Agent", s.userAgents[rand.Intn(len(s.userAgents))])
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", acceptLanguages[rand.Intn(len(acceptLanguages))])
	h.Set("Cache-Control", "no-cache")
}
