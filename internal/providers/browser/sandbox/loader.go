package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/adblock"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/http/client"
)

// Inline handlers are never evaluated.
var inlineHandlers = []string{"onclick", "onload", "onerror", "onsubmit", "onmouseover", "onfocus", "onblur"}

// subresources lists the elements whose references pass the ad filter.
const subresources = "img[src], iframe[src], script[src], embed[src], video[src], audio[src], source[src], link[href]"

type document struct {
	dom     *DOM
	url     *url.URL
	status  int
	charset string
	blocked int
}

// fetchDocument loads rawURL and prepares it for the page runtime.
func (s *Surface) fetchDocument(ctx context.Context, rawURL, referer string) (*document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", rawURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "about":
		return &document{dom: BlankDOM(u), url: u, status: 200, charset: "utf-8"}, nil
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}

	var filter *adblock.Filter
	if s.opts.BlockAds {
		filter = s.factory.filter
		if filter.Blocks(rawURL) {
			s.factory.metrics.IncAdsBlocked(1)
			return nil, fmt.Errorf("%w: %s", ErrBlocked, u.Hostname())
		}
	}

	headers := map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"User-Agent":      s.userAgent,
	}
	if referer != "" && !strings.HasPrefix(referer, "about:") {
		headers["Referer"] = referer
	}

	start := time.Now()
	resp, err := s.client.Get(ctx, rawURL, headers)
	s.factory.metrics.RecordPageFetch(err, time.Since(start))
	if err != nil && (resp == nil || !errors.Is(err, client.ErrStatus)) {
		return nil, err
	}

	final, err := url.Parse(resp.URL)
	if err != nil {
		final = u
	}
	body, name, err := decodeBody(resp.Body, resp.ContentType)
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", name, err)
	}
	dom, err := ParseDOM(strings.NewReader(body), final)
	if err != nil {
		return nil, err
	}
	blocked := prepare(dom, filter, s.factory.config.RunPageScripts)
	s.factory.metrics.IncAdsBlocked(blocked)

	return &document{dom: dom, url: final, status: resp.Status, charset: name, blocked: blocked}, nil
}

// decodeBody converts body to UTF-8. Declared encodings win; undeclared
// non-UTF-8 bodies are sniffed.
func decodeBody(body []byte, contentType string) (string, string, error) {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain && name == "windows-1252" {
		if res, err := chardet.NewHtmlDetector().DetectBest(body); err == nil && res.Confidence >= 50 {
			if e, n := charset.Lookup(res.Charset); e != nil {
				enc, name = e, n
			}
		}
	}
	if name == "utf-8" {
		return string(bytes.ToValidUTF8(body, []byte("\uFFFD"))), name, nil
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", name, err
	}
	return string(out), name, nil
}

// prepare strips what the sandbox never runs and, when filter is set, the
// subresources it blocks. It returns the number of blocked references.
func prepare(dom *DOM, filter *adblock.Filter, keepInlineScripts bool) int {
	doc := dom.doc
	if keepInlineScripts {
		doc.Find("script[src]").Remove()
	} else {
		doc.Find("script").Remove()
	}
	for _, attr := range inlineHandlers {
		doc.Find("[" + attr + "]").RemoveAttr(attr)
	}

	if filter == nil {
		return 0
	}
	blocked := 0
	doc.Find(subresources).Each(func(_ int, sel *goquery.Selection) {
		ref := sel.AttrOr("src", sel.AttrOr("href", ""))
		if ref != "" && filter.Blocks(dom.Resolve(ref)) {
			sel.Remove()
			blocked++
		}
	})
	return blocked
}

// inlineScripts returns the text of the page's inline scripts.
func inlineScripts(dom *DOM) []string {
	var out []string
	dom.doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		typ := strings.ToLower(strings.TrimSpace(sel.AttrOr("type", "")))
		if typ != "" && typ != "text/javascript" && typ != "application/javascript" {
			return
		}
		if text := sel.Text(); strings.TrimSpace(text) != "" {
			out = append(out, text)
		}
	})
	return out
}
