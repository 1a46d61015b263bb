package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/resilience"
)

// DefaultUserAgent identifies the shell to origin servers.
const DefaultUserAgent = "Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Mobile Safari/537.36 Shell/1.0"

// ErrStatus wraps responses with an error status code.
var ErrStatus = errors.New("unexpected status")

// Config tunes a Client.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RateLimit is requests per second; zero disables pacing.
	RateLimit float64
	// OnBreakerChange observes the shared breaker's transitions.
	OnBreakerChange func(name string, from, to resilience.State)
}

// DefaultConfig returns page-fetch defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:    DefaultUserAgent,
		Timeout:      30 * time.Second,
		RetryMax:     2,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
	}
}

// Client wraps resty with rate limiting, retries and a circuit breaker.
type Client struct {
	Resty   *resty.Client
	Limiter *rate.Limiter
	Breaker *resilience.Breaker

	cfg       Config
	transport http.RoundTripper
	mu        sync.RWMutex
}

// NewClient creates a client with its own cookie jar.
func NewClient(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	// retryablehttp supplies the pooled transport and the retry policy.
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	breaker := resilience.New("http-external", resilience.Settings{
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
		OnStateChange: cfg.OnBreakerChange,
	})

	c := &Client{
		Limiter:   newLimiter(cfg.RateLimit),
		Breaker:   breaker,
		cfg:       cfg,
		transport: retryClient.HTTPClient.Transport,
	}
	c.Resty = c.newResty(mustJar())
	return c
}

// Fork returns a client that shares transport, limiter and breaker but
// keeps cookies in jar. Private tabs fork with a fresh jar.
func (c *Client) Fork(jar http.CookieJar) *Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if jar == nil {
		jar = mustJar()
	}
	return &Client{
		Resty:     c.newResty(jar),
		Limiter:   c.Limiter,
		Breaker:   c.Breaker,
		cfg:       c.cfg,
		transport: c.transport,
	}
}

// NewCookieJar returns a jar that honours the public suffix list.
func NewCookieJar() (http.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

func mustJar() http.CookieJar {
	jar, err := NewCookieJar()
	if err != nil {
		// cookiejar.New only fails on invalid options.
		panic(err)
	}
	return jar
}

func (c *Client) newResty(jar http.CookieJar) *resty.Client {
	r := resty.New().
		SetTransport(c.transport).
		SetCookieJar(jar).
		SetTimeout(c.cfg.Timeout).
		SetRetryCount(c.cfg.RetryMax).
		SetRetryWaitTime(c.cfg.RetryWaitMin).
		SetRetryMaxWaitTime(c.cfg.RetryWaitMax).
		SetHeader("User-Agent", c.cfg.UserAgent)
	r.AddRetryCondition(func(resp *resty.Response, err error) bool {
		ctx := context.Background()
		var raw *http.Response
		if resp != nil {
			raw = resp.RawResponse
			if resp.Request != nil {
				ctx = resp.Request.Context()
			}
		}
		retry, _ := retryablehttp.DefaultRetryPolicy(ctx, raw, err)
		return retry
	})
	return r
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// UserAgent returns the configured User-Agent.
func (c *Client) UserAgent() string {
	return c.cfg.UserAgent
}

// Jar returns the client's cookie jar.
func (c *Client) Jar() http.CookieJar {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Resty.GetClient().Jar
}

// SetHeader adds default header
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resty.SetHeader(key, value)
}

// SetTimeout configures request timeout
func (c *Client) SetTimeout(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resty.SetTimeout(duration)
}

// SetRateLimit configures rate limiting (requests per second)
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Limiter = newLimiter(rps)
}

// Request creates new request with rate limiting and circuit breaker protection
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if c.Breaker.State() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}

	c.mu.RLock()
	limiter := c.Limiter
	c.mu.RUnlock()
	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Resty.R().SetContext(ctx), nil
}

// ExecuteWithBreaker executes an HTTP operation with circuit breaker protection
func (c *Client) ExecuteWithBreaker(fn func() (*resty.Response, error)) (*resty.Response, error) {
	resp, err := resilience.Execute(c.Breaker, fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("external service unavailable: %w", err)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// BreakerState returns the current circuit breaker state
func (c *Client) BreakerState() resilience.State {
	return c.Breaker.State()
}

// BreakerCounts returns circuit breaker statistics
func (c *Client) BreakerCounts() resilience.Counts {
	return c.Breaker.Counts()
}
