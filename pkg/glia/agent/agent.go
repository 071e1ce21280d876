// Package agent defines the assistant backend Glia streams answers
// from. The core pipeline only depends on the Agent interface and on
// the frame protocol its Stream method speaks; the OpenAI-compatible
// client in this package is the default implementation.
//
// Frame protocol (one frame per channel element):
//
//	data: {"response": "<text chunk>"}
//	data: {"keepalive": true}
//	data: {"error": "<message>"}
//	nostream: {"response": "<complete message>"}
//	data: [DONE]
//
// Streams always terminate with the [DONE] sentinel, also after an
// error frame.
package agent

import "context"

// Frame sentinels and prefixes of the internal stream protocol.
const (
	FrameDone           = "data: [DONE]"
	FramePrefixData     = "data: "
	FramePrefixNoStream = "nostream: "
)

// Turn is one prior exchange turn. Role is "user" or "assistant".
type Turn struct {
	Role    string
	Content string
}

// Request is one assistant invocation.
type Request struct {
	System  string
	History []Turn
	Prompt  string
}

// Agent produces assistant replies.
type Agent interface {
	// Stream answers the request as a frame stream. The returned
	// channel is closed after the [DONE] frame. Errors that occur after
	// streaming began surface as error frames, not as a return value.
	Stream(ctx context.Context, req Request) (<-chan string, error)

	// Run answers the request silently and returns the full text.
	// Used by scheduled workflows and mention chat.
	Run(ctx context.Context, req Request) (string, error)
}
