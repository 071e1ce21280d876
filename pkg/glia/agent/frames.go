package agent

import (
	"encoding/json"
	"fmt"
)

type framePayload struct {
	Response  string `json:"response,omitempty"`
	Keepalive bool   `json:"keepalive,omitempty"`
	Error     string `json:"error,omitempty"`
}

func dataFrame(p framePayload) string {
	b, _ := json.Marshal(p)
	return FramePrefixData + string(b)
}

// TextFrame builds a streamed text chunk frame.
func TextFrame(text string) string {
	return dataFrame(framePayload{Response: text})
}

// KeepaliveFrame builds a keepalive frame.
func KeepaliveFrame() string {
	return dataFrame(framePayload{Keepalive: true})
}

// ErrorFrame builds an error frame.
func ErrorFrame(msg string) string {
	return dataFrame(framePayload{Error: msg})
}

// NoStreamFrame builds a frame carrying a complete message that
// replaces everything streamed so far without reaching the client.
func NoStreamFrame(full string) string {
	b, _ := json.Marshal(framePayload{Response: full})
	return fmt.Sprintf("%s%s", FramePrefixNoStream, b)
}
