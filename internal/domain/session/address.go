package session

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"

	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/types"
)

var schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*://`)

// opaqueSchemes are schemes that are written without "//".
var opaqueSchemes = []string{"about:", "data:", "javascript:", "mailto:"}

// HasScheme reports whether rawURL already names its scheme.
func HasScheme(rawURL string) bool {
	if schemePattern.MatchString(rawURL) {
		return true
	}
	lower := strings.ToLower(rawURL)
	for _, s := range opaqueSchemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	return false
}

// NormalizeURL prefixes https:// when rawURL has no scheme.
func NormalizeURL(rawURL string) string {
	if HasScheme(rawURL) {
		return rawURL
	}
	return "https://" + rawURL
}

// Hostname extracts the canonical (lowercase, ASCII) hostname of rawURL.
// It returns "" when rawURL has no host.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}

// FaviconFallback is the favicon used when a page declares none.
func FaviconFallback(pageURL string) string {
	host := Hostname(pageURL)
	if host == "" {
		return ""
	}
	return "https://www.google.com/s2/favicons?domain=" + url.QueryEscape(host)
}

var searchPrefixes = map[types.SearchEngine]string{
	types.EngineGoogle:     "https://www.google.com/search?q=",
	types.EngineBing:       "https://www.bing.com/search?q=",
	types.EngineDuckDuckGo: "https://duckduckgo.com/?q=",
	types.EngineYahoo:      "https://search.yahoo.com/search?p=",
}

var engineHomes = map[types.SearchEngine]string{
	types.EngineGoogle:     "https://www.google.com",
	types.EngineBing:       "https://www.bing.com",
	types.EngineDuckDuckGo: "https://duckduckgo.com",
	types.EngineYahoo:      "https://www.yahoo.com",
}

// SearchURL builds the results url for query on engine. Unknown engines
// fall back to Google.
func SearchURL(engine types.SearchEngine, query string) string {
	prefix, ok := searchPrefixes[engine]
	if !ok {
		prefix = searchPrefixes[types.EngineGoogle]
	}
	return prefix + url.QueryEscape(query)
}

// EngineHome returns the home page associated with an engine.
func EngineHome(engine types.SearchEngine) string {
	if home, ok := engineHomes[engine]; ok {
		return home
	}
	return engineHomes[types.EngineGoogle]
}

// LooksLikeURL applies the address bar heuristic: a dot and no spaces, or
// an explicit scheme.
func LooksLikeURL(input string) bool {
	if HasScheme(input) && !strings.ContainsAny(input, " \t") {
		return true
	}
	return strings.Contains(input, ".") && !strings.ContainsAny(input, " \t")
}

// ResolveInput turns address bar input into the url to load.
func ResolveInput(input string, engine types.SearchEngine) string {
	input = strings.TrimSpace(input)
	if LooksLikeURL(input) {
		return NormalizeURL(input)
	}
	return SearchURL(engine, input)
}

// EnginePatch is the settings change for picking engine. The home page
// follows the engine when it is unset or still the old engine's home.
func EnginePatch(current types.BrowserSettings, engine types.SearchEngine) types.SettingsPatch {
	patch := types.SettingsPatch{SearchEngine: types.Ptr(engine)}
	if current.HomePage == "" || current.HomePage == EngineHome(current.SearchEngine) {
		patch.HomePage = types.Ptr(EngineHome(engine))
	}
	return patch
}
