package term

import (
	"regexp"
	"strings"
)

// EventType classifies a PTY output chunk.
type EventType string

const (
	EventText      EventType = "text"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventAskUser   EventType = "ask_user"
	EventDiff      EventType = "diff"
)

// Option is one selectable answer extracted from an ask_user prompt.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Event is a best-effort semantic reading of one output chunk. The raw
// bytes are always preserved verbatim for rendering; events only feed
// UI affordances like push notifications.
type Event struct {
	Type     EventType `json:"type"`
	Content  string    `json:"content"`
	ToolName string    `json:"toolName,omitempty"`
	Options  []Option  `json:"options,omitempty"`
}

var (
	// CSI/OSC/charset escape sequences. Matching happens on the
	// stripped text only.
	ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[()][A-Za-z0-9]|\x1b[=>]`)

	numberedOptionRe = regexp.MustCompile(`(?m)^(\d+)\.\s+(.+)$`)
	toolNameRe       = regexp.MustCompile(`\b(Read|Edit|Write|Bash|Glob|Grep)\b`)
	toolResultRe     = regexp.MustCompile(`⎿`)
)

// StripANSI removes terminal escape sequences for pattern matching.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

// Classify maps a raw output chunk to at most one event. The heuristics
// are intentionally loose: numbered lists in ordinary output will
// occasionally read as ask_user prompts, and that is accepted.
func Classify(chunk []byte) []Event {
	stripped := StripANSI(string(chunk))
	trimmed := strings.TrimSpace(stripped)
	if trimmed == "" {
		return nil
	}

	if strings.Contains(stripped, "?") {
		if matches := numberedOptionRe.FindAllStringSubmatch(stripped, -1); len(matches) >= 2 {
			options := make([]Option, 0, len(matches))
			for _, m := range matches {
				options = append(options, Option{
					Label: strings.TrimSpace(m[2]),
					Value: m[1],
				})
			}
			return []Event{{Type: EventAskUser, Content: trimmed, Options: options}}
		}
	}

	if m := toolNameRe.FindString(stripped); m != "" {
		typ := EventToolStart
		if toolResultRe.MatchString(stripped) {
			// The CLI prefixes tool results with its connector glyph.
			typ = EventToolEnd
		}
		return []Event{{Type: typ, Content: trimmed, ToolName: m}}
	}

	if strings.Contains(stripped, "@@") &&
		(strings.Contains(stripped, "+") || strings.Contains(stripped, "-")) {
		return []Event{{Type: EventDiff, Content: trimmed}}
	}

	return []Event{{Type: EventText, Content: trimmed}}
}
