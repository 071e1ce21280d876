package stream

import (
	"context"
	"errors"
	"testing"
	"time"
)

// runRelay feeds the given raw frames through a relay and collects the
// emitted events.
func runRelay(t *testing.T, frames []string, closeAfter bool) ([]Event, string, error) {
	t.Helper()
	ch := make(chan string, len(frames))
	for _, f := range frames {
		ch <- f
	}
	if closeAfter {
		close(ch)
	}

	var events []Event
	relay := NewRelay(nil)
	text, err := relay.Run(context.Background(), ch, "conv-1", func(e Event) error {
		events = append(events, e)
		return nil
	})
	return events, text, err
}

func TestRelayRun(t *testing.T) {
	t.Run("streams text and closes with done", func(t *testing.T) {
		events, text, err := runRelay(t, []string{
			`data: {"response":"hel"}`,
			`data: {"response":"lo"}`,
			`data: [DONE]`,
		}, false)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if text != "hello" {
			t.Errorf("accumulated text = %q, want %q", text, "hello")
		}
		if len(events) != 3 {
			t.Fatalf("got %d events, want 3", len(events))
		}
		if events[0].Text != "hel" || events[1].Text != "lo" {
			t.Errorf("text events = %+v", events[:2])
		}
		last := events[len(events)-1]
		if !last.Done || last.ConversationID != "conv-1" {
			t.Errorf("final event = %+v, want done with conversation id", last)
		}
	})

	t.Run("keepalive passes through", func(t *testing.T) {
		events, _, err := runRelay(t, []string{
			`data: {"keepalive":true}`,
			`data: [DONE]`,
		}, false)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(events) != 2 || !events[0].Keepalive {
			t.Errorf("events = %+v, want keepalive then done", events)
		}
	})

	t.Run("overwrite frame is not forwarded", func(t *testing.T) {
		events, text, err := runRelay(t, []string{
			`data: {"response":"partial"}`,
			`nostream: {"complete_message":"final"}`,
			`data: [DONE]`,
		}, false)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if text != "final" {
			t.Errorf("accumulated text = %q, want %q", text, "final")
		}
		// One text event plus done; the overwrite never reaches the client.
		if len(events) != 2 {
			t.Errorf("got %d events, want 2: %+v", len(events), events)
		}
	})

	t.Run("error frame emits error then done and stops", func(t *testing.T) {
		events, _, err := runRelay(t, []string{
			`data: {"response":"a"}`,
			`data: {"error":"assistant unavailable"}`,
			`data: {"response":"never seen"}`,
		}, false)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(events) != 3 {
			t.Fatalf("got %d events, want 3: %+v", len(events), events)
		}
		if events[1].Error != "assistant unavailable" {
			t.Errorf("error event = %+v", events[1])
		}
		if !events[2].Done {
			t.Errorf("last event = %+v, want done", events[2])
		}
	})

	t.Run("malformed frames are skipped", func(t *testing.T) {
		events, text, err := runRelay(t, []string{
			`garbage`,
			`data: {broken`,
			`data: {"response":"ok"}`,
			`data: [DONE]`,
		}, false)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if text != "ok" || len(events) != 2 {
			t.Errorf("text = %q, events = %+v", text, events)
		}
	})

	t.Run("channel close without sentinel still emits done", func(t *testing.T) {
		events, text, err := runRelay(t, []string{
			`data: {"response":"cut off"}`,
		}, true)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if text != "cut off" {
			t.Errorf("text = %q", text)
		}
		last := events[len(events)-1]
		if !last.Done || last.ConversationID != "conv-1" {
			t.Errorf("final event = %+v, want done", last)
		}
	})

	t.Run("emit error aborts the relay", func(t *testing.T) {
		ch := make(chan string, 2)
		ch <- `data: {"response":"a"}`
		ch <- `data: [DONE]`

		sentinel := errors.New("client gone")
		relay := NewRelay(nil)
		_, err := relay.Run(context.Background(), ch, "conv-1", func(Event) error {
			return sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Errorf("err = %v, want %v", err, sentinel)
		}
	})

	t.Run("context cancellation returns partial text", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		ch := make(chan string, 1)
		ch <- `data: {"response":"partial"}`

		relay := NewRelay(nil)
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		text, err := relay.Run(ctx, ch, "conv-1", func(Event) error { return nil })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
		if text != "partial" {
			t.Errorf("text = %q, want %q", text, "partial")
		}
	})
}
