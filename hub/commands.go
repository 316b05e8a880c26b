package hub

import (
	"encoding/json"

	"github.com/agentdeck/agentdeck/prefs"
)

// Command is the single envelope for every client → server control
// message. Binary frames are unmarshalled into it and dispatched on Type;
// unused fields stay at their zero values.
type Command struct {
	Type string `json:"type"`

	// auth
	Token string `json:"token,omitempty"`

	// preferences:set
	Preferences *prefs.Preferences `json:"preferences,omitempty"`

	// session:*
	SessionID string `json:"sessionId,omitempty"`
	Cwd       string `json:"cwd,omitempty"`
	HasCache  bool   `json:"hasCache,omitempty"`
	PID       int    `json:"pid,omitempty"`

	// resize
	Cols int `json:"cols,omitempty"`
	Rows int `json:"rows,omitempty"`

	// image:upload
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`

	// schedule:*
	ScheduleID string `json:"scheduleId,omitempty"`
	Name       string `json:"name,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Preset     string `json:"preset,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// ParseCommand decodes one binary control frame.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	err := json.Unmarshal(data, &cmd)
	return cmd, err
}

// E is the payload of one server → client control event.
type E map[string]any

// encodeEvent renders a control event with its type field injected.
func encodeEvent(typ string, fields E) []byte {
	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["type"] = typ

	data, err := json.Marshal(payload)
	if err != nil {
		// Events are built from plain maps and structs; a marshal
		// failure is a programming error.
		panic("hub: cannot marshal event: " + err.Error())
	}
	return data
}
