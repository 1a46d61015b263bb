package sandbox

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func parseTestDOM(t *testing.T, markup, base string) *DOM {
	t.Helper()
	u, err := url.Parse(base)
	require.NoError(t, err)
	dom, err := ParseDOM(strings.NewReader(markup), u)
	require.NoError(t, err)
	return dom
}

func TestDOMQuery(t *testing.T) {
	dom := parseTestDOM(t, `<html><head><title> Test page </title></head>
		<body><div id="test-id" class="test-class"><span>a</span><span>b</span></div></body></html>`,
		"https://example.com/")

	tests := []struct {
		name     string
		selector string
		wantLen  int
	}{
		{name: "ID selector", selector: "#test-id", wantLen: 1},
		{name: "class selector", selector: ".test-class", wantLen: 1},
		{name: "tag selector", selector: "span", wantLen: 2},
		{name: "non-existent", selector: "#not-found", wantLen: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, dom.Query(tt.selector), tt.wantLen)
		})
	}

	assert.Equal(t, "Test page", dom.Title())
	div := dom.Query("#test-id")[0]
	assert.Len(t, dom.QueryFrom(div, "span"), 2)
	assert.Len(t, dom.ByTag(dom.Root(), "*"), 7)
	assert.Equal(t, "ab", Text(div))
}

func TestDOMResolveHonoursBaseElement(t *testing.T) {
	dom := parseTestDOM(t, `<html><head><base href="/static/"></head><body></body></html>`,
		"https://example.com/articles/1")

	assert.Equal(t, "https://example.com/static/", dom.Base().String())
	assert.Equal(t, "https://example.com/static/icon.png", dom.Resolve("icon.png"))
	assert.Equal(t, "https://cdn.example.net/x.js", dom.Resolve("https://cdn.example.net/x.js"))
	assert.Equal(t, "", dom.Resolve("  "))
}

func TestDOMMutationsAreRecorded(t *testing.T) {
	dom := parseTestDOM(t, `<html><head></head><body><p id="p">x</p></body></html>`, "https://example.com/")
	head, body := dom.Head(), dom.Body()
	p := dom.Query("#p")[0]

	require.NoError(t, dom.AppendHTML(head, `<link rel="icon" href="/a.png">`))
	dom.SetAttr(p, "data-x", "1")
	dom.SetAttr(p, "data-x", "2")
	dom.Remove(p)

	muts := dom.TakeMutations()
	assert.Equal(t, []*html.Node{head, p, body}, muts)
	assert.Empty(t, dom.TakeMutations())

	v, ok := Attr(dom.Query("link")[0], "HREF")
	assert.True(t, ok)
	assert.Equal(t, "/a.png", v)

	dom.RemoveAttr(p, "missing")
	assert.Empty(t, dom.TakeMutations(), "removing an absent attribute is not a mutation")
}

func TestDOMMedia(t *testing.T) {
	dom := parseTestDOM(t, `<html><body>
		<video id="a" src="a.mp4"></video>
		<video id="b"><source src="b.webm"></video>
		<div id="c"><audio></audio></div></body></html>`, "https://example.com/v/")

	a, b := dom.Query("#a")[0], dom.Query("#b")[0]
	c := dom.Query("#c")[0]
	assert.True(t, IsMedia(a))
	assert.False(t, IsMedia(c))
	assert.Equal(t, "https://example.com/v/a.mp4", dom.MediaSource(a))
	assert.Equal(t, "https://example.com/v/b.webm", dom.MediaSource(b))
	assert.Equal(t, "", dom.MediaSource(dom.Query("audio")[0]))
	assert.Equal(t, c, ParentElement(dom.Query("audio")[0]))
	assert.True(t, Contains(dom.Body(), a))
	assert.False(t, Contains(c, a))
}

func TestBlankDOM(t *testing.T) {
	u, _ := url.Parse("about:blank")
	dom := BlankDOM(u)
	assert.NotNil(t, dom.Head())
	assert.NotNil(t, dom.Body())
	assert.Equal(t, "", dom.Title())
}
