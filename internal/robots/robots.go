// Package robots gates race page fetches on the site's robots.txt.
package robots

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"

	"rpscrape/internal/config"
)

// Agent answers fetch permission per URL. Rules are loaded once per host and
// TTL; concurrent workers asking about an uncached host share one download.
type Agent struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	respect   bool
	logger    *slog.Logger

	loads singleflight.Group
	mu    sync.RWMutex
	hosts map[string]hostRules
}

// hostRules is a cached verdict source. A nil group means the host could not
// be read and everything is allowed until the entry expires.
type hostRules struct {
	loaded time.Time
	group  *robotstxt.Group
}

// NewAgent builds an agent. A nil client gets a short-timeout default.
func NewAgent(cfg config.RobotsConfig, client *http.Client, logger *slog.Logger) *Agent {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.CacheTTL.Duration
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Agent{
		client:    client,
		userAgent: cfg.UserAgent,
		ttl:       ttl,
		respect:   cfg.Respect,
		logger:    logger,
		hosts:     make(map[string]hostRules),
	}
}

// Allowed reports whether target may be fetched. Relative URLs never are.
func (a *Agent) Allowed(ctx context.Context, target *url.URL) bool {
	if target == nil || !target.IsAbs() {
		return false
	}
	if !a.respect {
		return true
	}
	rules := a.lookup(ctx, target)
	if rules.group == nil {
		return true
	}
	return rules.group.Test(target.EscapedPath())
}

func (a *Agent) lookup(ctx context.Context, target *url.URL) hostRules {
	host := strings.ToLower(target.Host)

	a.mu.RLock()
	cached, ok := a.hosts[host]
	a.mu.RUnlock()
	if ok && time.Since(cached.loaded) < a.ttl {
		return cached
	}

	v, _, _ := a.loads.Do(host, func() (any, error) {
		a.mu.RLock()
		cached, ok := a.hosts[host]
		a.mu.RUnlock()
		if ok && time.Since(cached.loaded) < a.ttl {
			return cached, nil
		}

		rules := hostRules{loaded: time.Now()}
		data, err := a.download(ctx, target.Scheme, target.Host)
		if err != nil {
			a.logger.Warn("robots.txt unavailable, allowing host", "host", host, "error", err)
		} else {
			rules.group = data.FindGroup(a.userAgent)
		}
		if ctx.Err() == nil {
			a.mu.Lock()
			a.hosts[host] = rules
			a.mu.Unlock()
		}
		return rules, nil
	})
	return v.(hostRules)
}

func (a *Agent) download(ctx context.Context, scheme, host string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+host+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}
