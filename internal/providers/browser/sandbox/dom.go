package sandbox

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DOM is a parsed document with mutation tracking.
type DOM struct {
	doc  *goquery.Document
	base *url.URL

	// mutated holds the parents of nodes changed since the last
	// TakeMutations, in order, without duplicates.
	mutated []*html.Node
}

// ParseDOM parses an HTML document. base resolves relative references;
// a <base href> in the document takes precedence.
func ParseDOM(r io.Reader, base *url.URL) (*DOM, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	d := &DOM{doc: doc, base: base}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && base != nil {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			d.base = base.ResolveReference(ref)
		}
	}
	return d, nil
}

// BlankDOM returns an empty document.
func BlankDOM(base *url.URL) *DOM {
	d, _ := ParseDOM(strings.NewReader("<html><head></head><body></body></html>"), base)
	return d
}

// Root returns the document node.
func (d *DOM) Root() *html.Node { return d.doc.Nodes[0] }

// Head returns the <head> element.
func (d *DOM) Head() *html.Node { return d.first("head") }

// Body returns the <body> element.
func (d *DOM) Body() *html.Node { return d.first("body") }

func (d *DOM) first(css string) *html.Node {
	sel := d.doc.Find(css)
	if sel.Length() == 0 {
		return nil
	}
	return sel.Nodes[0]
}

// Title returns the trimmed text of the first <title>.
func (d *DOM) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// Query finds elements by CSS selector. Invalid selectors match nothing.
func (d *DOM) Query(selector string) []*html.Node {
	return d.doc.Find(selector).Nodes
}

// QueryFrom finds descendants of n matching selector.
func (d *DOM) QueryFrom(n *html.Node, selector string) []*html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.DocumentNode {
		return d.Query(selector)
	}
	return d.doc.FindNodes(n).Find(selector).Nodes
}

// ByTag returns elements with the given tag name in document order.
func (d *DOM) ByTag(from *html.Node, tag string) []*html.Node {
	tag = strings.ToLower(tag)
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (tag == "*" || c.Data == tag) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	if from != nil {
		walk(from)
	}
	return out
}

// Base returns the URL references resolve against.
func (d *DOM) Base() *url.URL { return d.base }

// Resolve makes ref absolute. It returns ref unchanged when it cannot be
// parsed.
func (d *DOM) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || d.base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return d.base.ResolveReference(u).String()
}

// Attr returns an attribute value.
func Attr(n *html.Node, name string) (string, bool) {
	if n == nil {
		return "", false
	}
	name = strings.ToLower(name)
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets an attribute and records the mutation.
func (d *DOM) SetAttr(n *html.Node, name, value string) {
	name = strings.ToLower(name)
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr[i].Val = value
			d.record(n)
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
	d.record(n)
}

// RemoveAttr deletes an attribute and records the mutation.
func (d *DOM) RemoveAttr(n *html.Node, name string) {
	name = strings.ToLower(name)
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			d.record(n)
			return
		}
	}
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes.
func (d *DOM) AppendHTML(parent *html.Node, fragment string) error {
	if parent == nil {
		return fmt.Errorf("append: no parent element")
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	if len(nodes) > 0 {
		d.record(parent)
	}
	return nil
}

// Remove detaches n from its parent.
func (d *DOM) Remove(n *html.Node) {
	if n == nil || n.Parent == nil {
		return
	}
	parent := n.Parent
	parent.RemoveChild(n)
	d.record(parent)
}

// TakeMutations returns and clears the recorded mutation points.
func (d *DOM) TakeMutations() []*html.Node {
	out := d.mutated
	d.mutated = nil
	return out
}

func (d *DOM) record(n *html.Node) {
	for _, m := range d.mutated {
		if m == n {
			return
		}
	}
	d.mutated = append(d.mutated, n)
}

// HTML renders the document.
func (d *DOM) HTML() (string, error) {
	return d.doc.Html()
}

// Text returns the concatenated text content of n.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// ParentElement returns the nearest element ancestor of n.
func ParentElement(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

// Contains reports whether n is ancestor or lies beneath it.
func Contains(ancestor, n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

// IsMedia reports whether n is a <video> or <audio> element.
func IsMedia(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && (n.DataAtom == atom.Video || n.DataAtom == atom.Audio)
}

// MediaSource returns the source of a media element: its src attribute or
// that of its first <source> child.
func (d *DOM) MediaSource(n *html.Node) string {
	if src, ok := Attr(n, "src"); ok && src != "" {
		return d.Resolve(src)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Source {
			if src, ok := Attr(c, "src"); ok && src != "" {
				return d.Resolve(src)
			}
		}
	}
	return ""
}
