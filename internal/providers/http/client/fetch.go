package client

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// Page is a fetched document.
type Page struct {
	// URL is the final URL after redirects.
	URL         string
	Status      int
	ContentType string
	Header      http.Header
	Body        []byte
}

// Get fetches url. Server errors count against the breaker; status codes
// of 400 and above are returned as ErrStatus after the body is read.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Page, error) {
	req, err := c.Request(ctx)
	if err != nil {
		return nil, err
	}
	req.SetHeaders(headers)

	resp, err := c.ExecuteWithBreaker(func() (*resty.Response, error) {
		resp, err := req.Get(url)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return resp, fmt.Errorf("%w: %s", ErrStatus, resp.Status())
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}

	page := &Page{
		URL:         url,
		Status:      resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Header:      resp.Header(),
		Body:        resp.Body(),
	}
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		page.URL = raw.Request.URL.String()
	}
	if page.Status >= http.StatusBadRequest {
		return page, fmt.Errorf("get %s: %w: %s", url, ErrStatus, resp.Status())
	}
	return page, nil
}

// Stream opens url for incremental reading. The caller closes the body.
func (c *Client) Stream(ctx context.Context, url string) (*http.Response, error) {
	req, err := c.Request(ctx)
	if err != nil {
		return nil, err
	}
	req.SetDoNotParseResponse(true)

	resp, err := c.ExecuteWithBreaker(func() (*resty.Response, error) {
		return req.Get(url)
	})
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", url, err)
	}
	raw := resp.RawBody()
	if resp.StatusCode() >= http.StatusBadRequest {
		if raw != nil {
			_, _ = io.Copy(io.Discard, raw)
			raw.Close()
		}
		return nil, fmt.Errorf("stream %s: %w: %s", url, ErrStatus, resp.Status())
	}
	return resp.RawResponse, nil
}
