package hub

import (
	"encoding/json"
	"fmt"
)

// Wire values of the "type" field.
const (
	TypeMessage = "message"
	TypeTheme   = "theme"
	TypeClose   = "close"
	TypeLog     = "log"
)

// Kind classifies an inbound client message.
type Kind int

const (
	KindUnknown Kind = iota
	KindChat
	KindToggleTheme
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindToggleTheme:
		return "toggle_theme"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// Inbound is one decoded client message. Raw keeps the original bytes so a
// chat can be relayed unmodified.
type Inbound struct {
	Kind Kind
	Text string
	Raw  []byte
}

// DecodeInbound classifies raw. Anything that is not a JSON object with a
// known string "type" decodes as KindUnknown.
func DecodeInbound(raw []byte) Inbound {
	var env struct {
		Type    string          `json:"type"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{Kind: KindUnknown, Raw: raw}
	}

	msg := Inbound{Raw: raw}
	switch env.Type {
	case TypeMessage:
		msg.Kind = KindChat
		// non-string payloads are still relayed, they just carry no text
		_ = json.Unmarshal(env.Message, &msg.Text)
	case TypeTheme:
		msg.Kind = KindToggleTheme
	case TypeClose:
		msg.Kind = KindClose
	default:
		msg.Kind = KindUnknown
	}
	return msg
}

// ThemeNotice announces the theme in effect.
type ThemeNotice struct {
	Type  string `json:"type"`
	Theme Theme  `json:"theme"`
}

// LogNotice carries an informational line for client consoles.
type LogNotice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Presence lists every registered connection id.
type Presence struct {
	Connections []string `json:"connections"`
}

func themeMessage(t Theme) []byte {
	return mustEncode(ThemeNotice{Type: TypeTheme, Theme: t})
}

func logMessage(text string) []byte {
	return mustEncode(LogNotice{Type: TypeLog, Message: text})
}

func presenceMessage(ids []string) []byte {
	if ids == nil {
		ids = []string{}
	}
	return mustEncode(Presence{Connections: ids})
}

func closingNotice(id string) string {
	return "CLOSING " + id
}

func mustEncode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("hub: encode %T: %v", v, err))
	}
	return b
}
