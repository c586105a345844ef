// Package ai talks to the reasoning backend. The client never lets a
// backend failure escape into the turn engine: every failure mode maps to
// a fixed line the call can speak.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/voxbridge/phone-agent/types"
)

const (
	FallbackUnreachable = "I can't reach my brain right now. Please try again in a moment."
	FallbackTimeout     = "Sorry, that took too long to think about. Could you ask me again?"
	FallbackGeneric     = "I'm sorry, something went wrong on my end. Let's try that again."

	defaultQueryTimeout = 30 * time.Second
)

type Client struct {
	log  *slog.Logger
	http *http.Client

	mu      sync.RWMutex
	baseURL string
}

func NewClient(log *slog.Logger, baseURL string) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		log:     log,
		http:    &http.Client{},
		baseURL: baseURL,
	}
}

// SetBackendURL hot-swaps the backend target for subsequent queries.
func (c *Client) SetBackendURL(url string) {
	c.mu.Lock()
	c.baseURL = url
	c.mu.Unlock()
}

func (c *Client) backendURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

type QueryOptions struct {
	CallID       string
	DevicePrompt string
	Timeout      time.Duration
}

type askRequest struct {
	Prompt       string `json:"prompt"`
	CallID       string `json:"call_id"`
	DevicePrompt string `json:"device_prompt,omitempty"`
}

type askResponse struct {
	// Older backends reply in "text", newer ones in "response".
	Response   string `json:"response"`
	Text       string `json:"text"`
	SessionID  string `json:"session_id"`
	DurationMs int64  `json:"duration_ms"`
}

// Query sends the prompt to the backend tagged with the call ID so the
// backend keeps multi-turn context per call. It always returns a result
// whose Text is safe to speak, falling back to fixed wording on failure.
func (c *Client) Query(ctx context.Context, prompt string, opts QueryOptions) types.AIResult {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullPrompt := prompt
	if opts.DevicePrompt != "" {
		fullPrompt = opts.DevicePrompt + "\n\n" + prompt
	}

	body, err := json.Marshal(askRequest{
		Prompt:       fullPrompt,
		CallID:       opts.CallID,
		DevicePrompt: opts.DevicePrompt,
	})
	if err != nil {
		return types.AIResult{Text: FallbackGeneric}
	}

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL()+"/ask", bytes.NewReader(body))
	if err != nil {
		return types.AIResult{Text: FallbackGeneric}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.classifyTransportError(opts.CallID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn("backend returned error", "call_id", opts.CallID, "status", resp.StatusCode, "body", string(raw))
		return types.AIResult{Text: FallbackGeneric}
	}

	var parsed askResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.log.Warn("backend reply unparseable", "call_id", opts.CallID, "error", err)
		return types.AIResult{Text: FallbackGeneric}
	}

	text := parsed.Response
	if text == "" {
		text = parsed.Text
	}
	if text == "" {
		c.log.Warn("backend reply empty", "call_id", opts.CallID)
		return types.AIResult{Text: FallbackGeneric}
	}

	durationMs := parsed.DurationMs
	if durationMs == 0 {
		durationMs = time.Since(started).Milliseconds()
	}

	return types.AIResult{
		Text:       text,
		SessionID:  parsed.SessionID,
		DurationMs: durationMs,
		OK:         true,
	}
}

func (c *Client) classifyTransportError(callID string, err error) types.AIResult {
	if errors.Is(err, context.DeadlineExceeded) {
		c.log.Warn("backend query timed out", "call_id", callID)
		return types.AIResult{Text: FallbackTimeout}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.log.Warn("backend query timed out", "call_id", callID)
		return types.AIResult{Text: FallbackTimeout}
	}
	c.log.Warn("backend unreachable", "call_id", callID, "error", err)
	return types.AIResult{Text: FallbackUnreachable}
}

type endSessionRequest struct {
	CallID string `json:"call_id"`
}

// EndSession tells the backend to drop per-call state. Best-effort; call
// teardown never waits on its success.
func (c *Client) EndSession(ctx context.Context, callID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body, _ := json.Marshal(endSessionRequest{CallID: callID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL()+"/end-session", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("end-session failed", "call_id", callID, "error", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("end-session status %d", resp.StatusCode)
	}
	return nil
}
