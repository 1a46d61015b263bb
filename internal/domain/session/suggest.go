package session

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/types"
)

// DefaultSuggestions is how many suggestions the address bar shows.
const DefaultSuggestions = 5

// Suggest picks history entries matching address bar input. Direct matches
// (same host, or url/title containing the input) come first in history
// order; fuzzy matches fill the remaining slots. Results are unique by url.
func Suggest(history []types.HistoryItem, input string, limit int) []types.HistoryItem {
	input = strings.TrimSpace(input)
	if input == "" || limit <= 0 {
		return nil
	}

	needle := strings.ToLower(input)
	host := Hostname(NormalizeURL(input))

	out := make([]types.HistoryItem, 0, limit)
	seen := make(map[string]struct{}, limit)
	add := func(item types.HistoryItem) bool {
		if _, dup := seen[item.URL]; dup {
			return len(out) < limit
		}
		seen[item.URL] = struct{}{}
		out = append(out, item)
		return len(out) < limit
	}

	for _, item := range history {
		direct := (host != "" && Hostname(item.URL) == host) ||
			strings.Contains(strings.ToLower(item.URL), needle) ||
			strings.Contains(strings.ToLower(item.Title), needle)
		if direct && !add(item) {
			return out
		}
	}

	haystack := make([]string, len(history))
	for i, item := range history {
		haystack[i] = item.Title + " " + item.URL
	}
	for _, match := range fuzzy.Find(input, haystack) {
		if !add(history[match.Index]) {
			break
		}
	}
	return out
}
