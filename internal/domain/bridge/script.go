package bridge

import _ "embed"

//go:embed scripts/instrument.js
var instrumentScript string

// Script returns the instrumentation injected into every page. It installs
// the command dispatcher (window.__shell.dispatch), favicon discovery,
// long-press classification, video event forwarding, new-window
// interception and the verification echo. Injecting it twice re-announces
// the favicon without installing listeners again.
func Script() string {
	return instrumentScript
}
