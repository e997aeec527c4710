// Package backend provides an HTTP client for the voice-agent backend session API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/0xbacklit/voice-agent/internal/domain"
)

var (
	// ErrStartFailed is returned when the backend refuses to start a session.
	ErrStartFailed = errors.New("failed to start session")
	// ErrTokenUnavailable is returned when the backend does not issue media credentials.
	ErrTokenUnavailable = errors.New("unable to fetch media token")
)

// Client is an HTTP client for the backend session API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new backend client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StartSession calls POST /session/start.
func (c *Client) StartSession(ctx context.Context) (*domain.SessionStartResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/session/start", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("%w: %s", ErrStartFailed, describeFailure(resp))
	}

	var startResp domain.SessionStartResponse
	if err := json.NewDecoder(resp.Body).Decode(&startResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode start response: %v", ErrStartFailed, err)
	}
	if startResp.SessionID == "" {
		return nil, fmt.Errorf("%w: empty session_id", ErrStartFailed)
	}

	return &startResp, nil
}

// FetchToolCalls calls GET /session/:id/tools. Events are returned in chronological order.
func (c *Client) FetchToolCalls(ctx context.Context, sessionID string) ([]domain.ToolCallEvent, error) {
	resp, err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "tools"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tool calls: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("failed to fetch tool calls: %s", describeFailure(resp))
	}

	var events []domain.ToolCallEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("failed to decode tool calls: %w", err)
	}

	return events, nil
}

// PushToolCall calls POST /session/:id/tools.
func (c *Client) PushToolCall(ctx context.Context, sessionID string, event domain.ToolCallEvent) error {
	resp, err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "tools"), event)
	if err != nil {
		return fmt.Errorf("failed to push tool call: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return fmt.Errorf("failed to push tool call: %s", describeFailure(resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// FetchToken calls POST /livekit/token.
func (c *Client) FetchToken(ctx context.Context, req domain.TokenRequest) (*domain.TokenResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/livekit/token", req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	var tokenResp domain.TokenResponse
	decodeErr := json.Unmarshal(respBody, &tokenResp)
	if tokenResp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrTokenUnavailable, tokenResp.Error)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("%w: backend returned status %d: %s", ErrTokenUnavailable, resp.StatusCode, string(respBody))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: failed to decode token response: %v", ErrTokenUnavailable, decodeErr)
	}
	if tokenResp.Token == "" || tokenResp.URL == "" {
		return nil, fmt.Errorf("%w: incomplete credentials", ErrTokenUnavailable)
	}

	return &tokenResp, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(httpReq)
}

func sessionPath(sessionID, suffix string) string {
	return "/session/" + url.PathEscape(sessionID) + "/" + suffix
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func describeFailure(resp *http.Response) string {
	respBody, _ := io.ReadAll(resp.Body)
	var errResp domain.ErrorResponse
	if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
		return "backend error: " + errResp.Error
	}
	return fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, string(respBody))
}
