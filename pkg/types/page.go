package types

import (
	"net/http"
	"net/url"
	"time"
)

// Page represents a fetched document.
type Page struct {
	URL             *url.URL
	FinalURL        *url.URL
	Body            []byte
	ContentType     string
	StatusCode      int
	Headers         http.Header
	FetchedAt       time.Time
	ResponseLatency time.Duration
	FromCache       bool
}
