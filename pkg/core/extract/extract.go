// Package extract sends finished transcripts to the fact-extraction
// endpoint. Extraction is fire and forget from the client's point of view:
// the endpoint mines durable facts server-side, and the client only needs
// to know whether the transcript was accepted.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/voiceloop/voiceloop/pkg/core"
)

const defaultTimeout = 30 * time.Second

// Client posts transcripts for extraction. It implements live.Extractor.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient builds an extraction client for the given endpoint URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type extractRequest struct {
	Character  string `json:"character"`
	Transcript string `json:"transcript"`
}

// Extract submits one transcript. A non-2xx response is an extraction
// error; the caller keeps the transcript pending and retries later.
func (c *Client) Extract(ctx context.Context, character, transcript string) error {
	body, err := json.Marshal(extractRequest{Character: character, Transcript: transcript})
	if err != nil {
		return core.NewExtractionError(fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return core.NewExtractionError(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.NewExtractionError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.NewExtractionError(fmt.Sprintf("status %d from extraction endpoint", resp.StatusCode))
	}
	return nil
}
