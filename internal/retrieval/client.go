// Package retrieval talks to the external partitioned semantic-retrieval
// service. Each applicant gets a private partition for uploaded documents;
// one shared partition holds reference material for all interviews.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// Client communicates with the retrieval service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Client targeting the given service base URL. A
// non-positive timeout selects the default (10s). The timeout bounds
// each call; the session stays responsive while retrieval is in flight.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// retrievalResponse mirrors the JSON returned by POST /retrievals.
type retrievalResponse struct {
	ScoredChunks []struct {
		Text     string  `json:"text"`
		Score    float64 `json:"score"`
		Metadata struct {
			DocumentType string `json:"documentType"`
		} `json:"metadata"`
	} `json:"scored_chunks"`
}

// Retrieve runs a similarity search and returns at most q.TopK chunks,
// best first.
func (c *Client) Retrieve(ctx context.Context, q Query) ([]ScoredChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out retrievalResponse
	if err := c.post(ctx, "/retrievals", q, &out); err != nil {
		return nil, err
	}

	chunks := make([]ScoredChunk, 0, len(out.ScoredChunks))
	for _, sc := range out.ScoredChunks {
		if q.TopK > 0 && len(chunks) == q.TopK {
			break
		}
		label := sc.Metadata.DocumentType
		if label == "" {
			label = "Unknown Document"
		}
		chunks = append(chunks, ScoredChunk{
			SourceLabel: label,
			Text:        strings.TrimSpace(sc.Text),
			Score:       sc.Score,
		})
	}
	return chunks, nil
}

// Index uploads a document into a partition so later retrievals can
// find it. Used by the ingest worker, not by the interview tools.
func (c *Client) Index(ctx context.Context, doc Document) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.post(ctx, "/documents", doc, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
