package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// keepaliveInterval is how long a stream may stay silent before a
// keepalive frame is emitted.
const keepaliveInterval = 15 * time.Second

// OpenAI is an Agent backed by an OpenAI-compatible chat completions
// endpoint. Works with OpenAI, Anthropic proxies and any compatible
// API.
type OpenAI struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Agent = (*OpenAI)(nil)

// NewOpenAI creates the client. baseURL defaults to the OpenAI API.
func NewOpenAI(baseURL, apiKey, model string, logger *slog.Logger) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger.With("component", "agent"),
	}
}

// ---------- Wire types (OpenAI-compatible) ----------

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *OpenAI) messages(req Request) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	for _, t := range req.History {
		msgs = append(msgs, chatMessage{Role: t.Role, Content: t.Content})
	}
	return append(msgs, chatMessage{Role: "user", Content: req.Prompt})
}

// Stream sends a streaming chat completion and translates the SSE
// deltas into the internal frame protocol. Keepalive frames cover long
// upstream silences.
func (o *OpenAI) Stream(ctx context.Context, req Request) (<-chan string, error) {
	resp, err := o.post(ctx, chatRequest{Model: o.model, Messages: o.messages(req), Stream: true})
	if err != nil {
		return nil, err
	}

	frames := make(chan string, 16)
	lines := make(chan string, 16)
	stop := make(chan struct{})

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			// Guarded send: the consumer may return before draining, and
			// a parked send would outlive the closed body.
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
	}()

	go func() {
		defer close(frames)
		defer resp.Body.Close()
		defer close(stop)

		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()

		emit := func(frame string) bool {
			select {
			case frames <- frame:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !emit(KeepaliveFrame()) {
					return
				}
			case line, ok := <-lines:
				if !ok {
					emit(FrameDone)
					return
				}
				data, found := strings.CutPrefix(line, "data: ")
				if !found || data == "" {
					continue
				}
				if data == "[DONE]" {
					emit(FrameDone)
					return
				}

				var chunk chatChunk
				if err := json.Unmarshal([]byte(data), &chunk); err != nil {
					o.logger.Debug("skipping malformed chunk", "error", err)
					continue
				}
				if chunk.Error != nil {
					emit(ErrorFrame(chunk.Error.Message))
					emit(FrameDone)
					return
				}
				if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
					continue
				}
				ticker.Reset(keepaliveInterval)
				if !emit(TextFrame(chunk.Choices[0].Delta.Content)) {
					return
				}
			}
		}
	}()

	return frames, nil
}

// Run sends a non-streaming chat completion and returns the full text.
func (o *OpenAI) Run(ctx context.Context, req Request) (string, error) {
	resp, err := o.post(ctx, chatRequest{Model: o.model, Messages: o.messages(req)})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("API error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

func (o *OpenAI) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	if o.apiKey == "" {
		return nil, fmt.Errorf("agent API key not configured")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := o.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	o.logger.Debug("sending chat completion",
		"model", o.model,
		"messages", len(body.Messages),
		"stream", body.Stream,
	)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return nil, fmt.Errorf("API returned %d: %s", resp.StatusCode, string(b))
	}
	return resp, nil
}
