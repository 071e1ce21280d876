// Package stream translates the internal agent frame protocol into the
// SSE events bot clients consume, and supervises the background
// producers feeding those streams.
package stream

import (
	"encoding/json"
	"strings"
)

// FrameKind classifies one parsed internal frame.
type FrameKind int

const (
	// FrameSkip is anything the relay ignores: blank lines, frames
	// without a usable payload, malformed JSON.
	FrameSkip FrameKind = iota
	// FrameText carries a streamed text chunk.
	FrameText
	// FrameOverwrite carries a complete message replacing everything
	// accumulated so far. Never forwarded to the client.
	FrameOverwrite
	// FrameKeepalive keeps the connection warm.
	FrameKeepalive
	// FrameError terminates the stream with an error.
	FrameError
	// FrameDone is the end-of-stream sentinel.
	FrameDone
)

// webOnlyKeys are payload fields that only mean something to the web
// frontend. Frames carrying nothing but these are dropped.
var webOnlyKeys = []string{
	"conversation_description",
	"user_message_id",
	"bot_message_id",
	"stream_id",
	"tool_data",
	"tool_output",
	"follow_up_actions",
}

// Frame is one parsed internal frame.
type Frame struct {
	Kind FrameKind
	Text string // chunk for FrameText, full message for FrameOverwrite
	Err  string // message for FrameError
}

type framePayload struct {
	Response        string `json:"response"`
	CompleteMessage string `json:"complete_message"`
	Keepalive       bool   `json:"keepalive"`
	Error           string `json:"error"`
}

// ParseFrame classifies one raw frame line. Both the relay and the
// producer-side accumulator use it, so the persisted text and the
// streamed text can never disagree.
func ParseFrame(raw string) Frame {
	if data, ok := strings.CutPrefix(raw, "nostream: "); ok {
		var p framePayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return Frame{Kind: FrameSkip}
		}
		full := p.CompleteMessage
		if full == "" {
			full = p.Response
		}
		if full == "" {
			return Frame{Kind: FrameSkip}
		}
		return Frame{Kind: FrameOverwrite, Text: full}
	}

	data, ok := strings.CutPrefix(raw, "data: ")
	if !ok || data == "" {
		return Frame{Kind: FrameSkip}
	}
	if data == "[DONE]" {
		return Frame{Kind: FrameDone}
	}

	var p framePayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Frame{Kind: FrameSkip}
	}
	switch {
	case p.Error != "":
		return Frame{Kind: FrameError, Err: p.Error}
	case p.Keepalive:
		return Frame{Kind: FrameKeepalive}
	case p.Response != "":
		return Frame{Kind: FrameText, Text: p.Response}
	default:
		// Payload held only web frontend metadata (or nothing).
		return Frame{Kind: FrameSkip}
	}
}

// Accumulator builds the final assistant message from a frame
// sequence. Text chunks append; overwrite frames replace everything.
type Accumulator struct {
	b           strings.Builder
	overwritten string
}

// Apply folds one frame into the accumulator.
func (a *Accumulator) Apply(f Frame) {
	switch f.Kind {
	case FrameText:
		a.b.WriteString(f.Text)
	case FrameOverwrite:
		a.overwritten = f.Text
	}
}

// Text returns the accumulated message. An overwrite frame wins over
// anything streamed before or after it.
func (a *Accumulator) Text() string {
	if a.overwritten != "" {
		return a.overwritten
	}
	return a.b.String()
}
