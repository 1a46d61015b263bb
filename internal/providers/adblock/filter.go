package adblock

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// DefaultPatterns covers the common ad and tracking hosts.
var DefaultPatterns = []string{
	"doubleclick.net",
	"**.doubleclick.net",
	"**.googlesyndication.com",
	"**.googleadservices.com",
	"adservice.google.*",
	"**.adnxs.com",
	"**.adsrvr.org",
	"**.amazon-adsystem.com",
	"**.taboola.com",
	"**.outbrain.com",
	"**.criteo.com",
	"**.criteo.net",
	"ads.*",
	"ads.**",
	"ad.**",
	"adserver.**",
	"pagead*.**",
	"**.scorecardresearch.com",
}

// Filter matches hostnames against glob patterns where "*" spans one
// label and "**" spans any number.
type Filter struct {
	mu       sync.RWMutex
	patterns []string
	globs    []glob.Glob
}

// New compiles patterns.
func New(patterns ...string) (*Filter, error) {
	f := &Filter{}
	for _, p := range patterns {
		if err := f.Add(p); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Default returns a filter with DefaultPatterns.
func Default() *Filter {
	f, err := New(DefaultPatterns...)
	if err != nil {
		panic(err)
	}
	return f
}

// Add compiles one more pattern.
func (f *Filter) Add(pattern string) error {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return nil
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return fmt.Errorf("invalid block pattern '%s': %w", pattern, err)
	}
	f.mu.Lock()
	f.patterns = append(f.patterns, pattern)
	f.globs = append(f.globs, g)
	f.mu.Unlock()
	return nil
}

// Patterns returns the compiled patterns in insertion order.
func (f *Filter) Patterns() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.patterns...)
}

// BlocksHost reports whether host matches any pattern.
func (f *Filter) BlocksHost(host string) bool {
	if f == nil {
		return false
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, g := range f.globs {
		if g.Match(host) {
			return true
		}
	}
	return false
}

// Blocks reports whether rawURL points at a blocked host. Unparseable
// URLs are not blocked.
func (f *Filter) Blocks(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return f.BlocksHost(u.Hostname())
}
