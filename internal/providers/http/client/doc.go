// Package client is the outbound HTTP client used by content surfaces and
// downloads.
//
// Built on go-resty/resty with the hashicorp/go-retryablehttp transport and
// retry policy:
//   - rate limiting per client instance (golang.org/x/time/rate)
//   - a circuit breaker around every request
//   - a public-suffix aware cookie jar; Fork gives private tabs their own
//
// Example Usage:
//
//	c := client.NewClient(client.DefaultConfig())
//	page, err := c.Get(ctx, "https://example.com/", nil)
package client
