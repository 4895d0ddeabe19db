// Package token fetches ephemeral session credentials from the token
// endpoint. Tokens are single-use and short-lived; the lifecycle manager
// mints a fresh one per connection attempt.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voiceloop/voiceloop/pkg/core"
	"github.com/voiceloop/voiceloop/pkg/core/live"
)

const defaultTimeout = 15 * time.Second

// Client requests credentials over HTTP. It implements live.TokenSource.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient builds a token client for the given endpoint URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type tokenRequest struct {
	Character string            `json:"character"`
	Mode      string            `json:"mode,omitempty"`
	Flags     map[string]string `json:"flags,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Token mints one credential. Any failure is reported as a credential fetch
// error carrying the endpoint's message when one was returned.
func (c *Client) Token(ctx context.Context, req live.TokenRequest) (string, error) {
	body, err := json.Marshal(tokenRequest{
		Character: req.Character,
		Mode:      req.Mode,
		Flags:     req.Flags,
	})
	if err != nil {
		return "", core.NewCredentialFetchError(fmt.Sprintf("encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", core.NewCredentialFetchError(fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", core.NewCredentialFetchError(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", core.NewCredentialFetchError(fmt.Sprintf("read response: %v", err))
	}

	var payload tokenResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", core.NewCredentialFetchError(fmt.Sprintf("status %d: malformed response", resp.StatusCode))
	}
	if payload.Error != nil && payload.Error.Message != "" {
		return "", core.NewCredentialFetchError(payload.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", core.NewCredentialFetchError(fmt.Sprintf("status %d from token endpoint", resp.StatusCode))
	}
	if strings.TrimSpace(payload.Token) == "" {
		return "", core.NewCredentialFetchError("token endpoint returned no credential")
	}
	return payload.Token, nil
}
