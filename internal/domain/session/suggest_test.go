package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/types"
)

func history(urls ...string) []types.HistoryItem {
	out := make([]types.HistoryItem, len(urls))
	for i, u := range urls {
		out[i] = types.HistoryItem{ID: u, URL: u, Title: "t"}
	}
	return out
}

func TestSuggestDirectMatches(t *testing.T) {
	h := history(
		"https://go.dev/doc",
		"https://go.dev/doc",
		"https://example.com/golang",
		"https://news.test/",
	)

	got := Suggest(h, "go.dev", DefaultSuggestions)
	urls := make([]string, len(got))
	for i, item := range got {
		urls[i] = item.URL
	}
	assert.Equal(t, []string{"https://go.dev/doc"}, urls)
}

func TestSuggestMatchesTitleCaseInsensitively(t *testing.T) {
	h := []types.HistoryItem{
		{URL: "https://a.test/1", Title: "Weekly GOPHER news"},
		{URL: "https://b.test/2", Title: "Unrelated"},
	}

	got := Suggest(h, "gopher", DefaultSuggestions)
	if assert.NotEmpty(t, got) {
		assert.Equal(t, "https://a.test/1", got[0].URL)
	}
}

func TestSuggestCapsAndDedups(t *testing.T) {
	h := history(
		"https://a.test/1", "https://a.test/2", "https://a.test/3",
		"https://a.test/1", "https://a.test/4", "https://a.test/5", "https://a.test/6",
	)

	got := Suggest(h, "a.test", DefaultSuggestions)
	assert.Len(t, got, 5)

	seen := map[string]bool{}
	for _, item := range got {
		assert.False(t, seen[item.URL], "duplicate %s", item.URL)
		seen[item.URL] = true
	}
}

func TestSuggestFuzzyFillsRemainingSlots(t *testing.T) {
	h := []types.HistoryItem{
		{URL: "https://github.com/golang/go", Title: "golang/go"},
	}

	got := Suggest(h, "ghgo", DefaultSuggestions)
	assert.Len(t, got, 1)
}

func TestSuggestEmptyInput(t *testing.T) {
	assert.Empty(t, Suggest(history("https://a.test"), "  ", 5))
	assert.Empty(t, Suggest(history("https://a.test"), "a", 0))
}
