package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/glia-ai/glia/pkg/glia/stream"
)

// sseWriter writes stream events as server-sent events, flushing after
// every event so chunks reach the client immediately.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, nil
}

// WriteComment sends an SSE comment line. Clients ignore comments, but
// they keep aggressive idle timeouts from cutting a quiet stream.
func (s *sseWriter) WriteComment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("write comment: %w", err)
	}
	s.f.Flush()
	return nil
}

// WriteEvent sends one event.
func (s *sseWriter) WriteEvent(ev stream.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.f.Flush()
	return nil
}
