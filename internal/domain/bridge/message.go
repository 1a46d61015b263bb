package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/microcosm-cc/bluemonday"
)

var (
	// ErrMalformed wraps frames that are not valid JSON of the right shape.
	ErrMalformed = errors.New("bridge: malformed message")
	// ErrUnknownType is returned for well-formed frames with an unknown tag.
	ErrUnknownType = errors.New("bridge: unknown message type")
)

// MessageType is the discriminator of an inbound message.
type MessageType string

const (
	TypeFavicon               MessageType = "favicon"
	TypeContextMenu           MessageType = "contextMenu"
	TypeVideoPlay             MessageType = "videoPlay"
	TypeVideoPause            MessageType = "videoPause"
	TypeVideoTimeUpdate       MessageType = "videoTimeUpdate"
	TypeVideoEnded            MessageType = "videoEnded"
	TypeNewTab                MessageType = "newTab"
	TypeCookies               MessageType = "cookies"
	TypeLocalStorage          MessageType = "localStorageData"
	TypeInjectionVerification MessageType = "injectionVerification"
)

// IsVideo reports whether t is one of the video lifecycle events.
func (t MessageType) IsVideo() bool {
	switch t {
	case TypeVideoPlay, TypeVideoPause, TypeVideoTimeUpdate, TypeVideoEnded:
		return true
	}
	return false
}

// ContextKind classifies the element under a long-press.
type ContextKind string

const (
	ContextVideo ContextKind = "video"
	ContextLink  ContextKind = "link"
	ContextImage ContextKind = "image"
	ContextText  ContextKind = "text"
	ContextOther ContextKind = "other"
)

// ContextMenu is the payload of a contextMenu message.
type ContextMenu struct {
	Type     ContextKind `json:"type"`
	Href     string      `json:"href,omitempty"`
	Text     string      `json:"text,omitempty"`
	Src      string      `json:"src,omitempty"`
	VideoURL string      `json:"videoUrl,omitempty"`
	Title    string      `json:"title,omitempty"`
	X        *float64    `json:"x,omitempty"`
	Y        *float64    `json:"y,omitempty"`
}

// VideoEvent is the data of a video lifecycle message.
type VideoEvent struct {
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	CurrentTime *float64 `json:"currentTime,omitempty"`
}

// Cookie is one name/value pair reported by the page.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is a parsed inbound frame. Only the fields belonging to Type
// are set.
type Message struct {
	Type         MessageType
	Favicon      string
	ContextMenu  *ContextMenu
	Video        *VideoEvent
	NewTabURL    string
	Cookies      []Cookie
	LocalStorage map[string]string
	Success      bool
}

type envelope struct {
	Type    MessageType     `json:"type"`
	Favicon *string         `json:"favicon"`
	URL     *string         `json:"url"`
	Success *bool           `json:"success"`
	Payload json.RawMessage `json:"payload"`
	Data    json.RawMessage `json:"data"`
}

var textPolicy = bluemonday.StrictPolicy()

// plainText strips markup from page-supplied strings shown in host UI.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<>&") {
		return s
	}
	return html.UnescapeString(textPolicy.Sanitize(s))
}

// Parse decodes one inbound frame.
func Parse(raw []byte) (Message, error) {
	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := Message{Type: env.Type}
	switch env.Type {
	case TypeFavicon:
		if env.Favicon == nil || *env.Favicon == "" {
			return Message{}, fmt.Errorf("%w: favicon without url", ErrMalformed)
		}
		msg.Favicon = *env.Favicon

	case TypeContextMenu:
		var cm ContextMenu
		if err := decodeBody(env.Payload, &cm); err != nil {
			return Message{}, err
		}
		switch cm.Type {
		case ContextVideo, ContextLink, ContextImage, ContextText, ContextOther:
		default:
			cm.Type = ContextOther
		}
		cm.Text = plainText(cm.Text)
		cm.Title = plainText(cm.Title)
		msg.ContextMenu = &cm

	case TypeVideoPlay, TypeVideoPause, TypeVideoTimeUpdate, TypeVideoEnded:
		var ev VideoEvent
		if err := decodeBody(env.Data, &ev); err != nil {
			return Message{}, err
		}
		if ev.URL == "" {
			return Message{}, fmt.Errorf("%w: %s without url", ErrMalformed, env.Type)
		}
		ev.Title = plainText(ev.Title)
		msg.Video = &ev

	case TypeNewTab:
		if env.URL == nil || *env.URL == "" {
			return Message{}, fmt.Errorf("%w: newTab without url", ErrMalformed)
		}
		msg.NewTabURL = *env.URL

	case TypeCookies:
		cookies := []Cookie{}
		if err := decodeBody(env.Data, &cookies); err != nil {
			return Message{}, err
		}
		msg.Cookies = cookies

	case TypeLocalStorage:
		items := map[string]string{}
		if err := decodeBody(env.Data, &items); err != nil {
			return Message{}, err
		}
		msg.LocalStorage = items

	case TypeInjectionVerification:
		msg.Success = env.Success != nil && *env.Success

	case "":
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)

	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return msg, nil
}

func decodeBody(body json.RawMessage, v any) error {
	if len(body) == 0 || string(body) == "null" {
		return fmt.Errorf("%w: missing body", ErrMalformed)
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
