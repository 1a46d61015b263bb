package remote

// Frame kinds sent to the device.
const (
	KindLoad     = "load"
	KindReload   = "reload"
	KindBack     = "back"
	KindForward  = "forward"
	KindInject   = "inject"
	KindSend     = "send"
	KindClose    = "close"
	KindDecision = "decision"
)

// Frame kinds sent by the device.
const (
	KindLoadStart   = "loadStart"
	KindLoadEnd     = "loadEnd"
	KindLoadError   = "loadError"
	KindMessage     = "message"
	KindShouldStart = "shouldStart"
)

// Frame is one websocket message in either direction. Only the fields
// belonging to Kind are set.
type Frame struct {
	Kind string `json:"kind"`
	// Seq pairs a shouldStart question with its decision.
	Seq uint64 `json:"seq,omitempty"`

	URL          string `json:"url,omitempty"`
	Title        string `json:"title,omitempty"`
	CanGoBack    bool   `json:"canGoBack,omitempty"`
	CanGoForward bool   `json:"canGoForward,omitempty"`
	Error        string `json:"error,omitempty"`
	Target       string `json:"target,omitempty"`
	NavType      string `json:"navType,omitempty"`
	Allow        bool   `json:"allow,omitempty"`

	// Script is the source for inject; Data carries bridge frames and
	// command payloads as strings.
	Script string `json:"script,omitempty"`
	Data   string `json:"data,omitempty"`
}
