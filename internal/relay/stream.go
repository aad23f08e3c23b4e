package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

const titleDirective = "At the beginning of your answer explicitly add generated short title " +
	"for this conversation in the format: 'TITLE: <generated title>\\n'"

// Sink receives the running visible text of the completion, re-invoked on
// every streamed delta with the full buffer accumulated so far.
type Sink func(visible string)

// Completion is the final state of a streamed chat exchange.
type Completion struct {
	// FullText is everything the model produced, title line included.
	FullText string
	// Title is the cleaned conversation title, or "" when the model never
	// emitted one.
	Title string
	// Visible is the body shown to the user, with the title line removed.
	Visible string
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// StreamChat sends the conversation to the model and streams the response.
// The system prompt is prefixed with a title directive so the model opens
// with a 'TITLE: ...' line; that line is stripped from what the sink sees.
// Deltas already delivered to the sink stay delivered even when the stream
// later fails.
func (c *Client) StreamChat(ctx context.Context, model string, msgs []Message, systemPrompt string, sink Sink) (*Completion, error) {
	messages := make([]Message, 0, len(msgs)+1)
	messages = append(messages, Message{
		Role:    "system",
		Content: titleDirective + "\n" + systemPrompt,
	})
	messages = append(messages, msgs...)

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	rc, err := c.openStream(ctx, body)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return c.consume(rc, sink)
}

// openStream issues the completion request, retrying with backoff on 429.
func (c *Client) openStream(ctx context.Context, body []byte) (io.ReadCloser, error) {
	var lastErr error
	for attempt := range maxRetries {
		rc, err := c.doStream(ctx, body)
		if err == nil {
			return rc, nil
		}

		var up *UpstreamError
		if !errors.As(err, &up) || up.Status != http.StatusTooManyRequests {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) doStream(ctx context.Context, body []byte) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithTimeout(ctx, streamingTimeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}

	// Wrap the body so the timeout context cancel is called when the caller closes it.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// consume decodes SSE frames, feeds content deltas through the title
// splitter and re-emits the visible buffer to the sink. Frames that fail to
// parse are logged and skipped.
func (c *Client) consume(r io.Reader, sink Sink) (*Completion, error) {
	var splitter titleSplitter

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			c.logger.Warn("skipping malformed stream frame", "error", err)
			continue
		}
		if len(frame.Choices) == 0 {
			continue
		}
		delta := frame.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		splitter.Append(delta)
		if sink != nil {
			sink(splitter.Visible())
		}
	}

	done := &Completion{
		FullText: splitter.Full(),
		Title:    splitter.Title(),
		Visible:  splitter.Visible(),
	}
	if err := scanner.Err(); err != nil {
		return done, fmt.Errorf("reading stream: %w", err)
	}
	return done, nil
}
