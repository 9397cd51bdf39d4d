// Package rag retrieves grounding context for a user utterance from an
// external knowledge-base service.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Retriever supplies context for answer generation. Search failures are soft:
// callers proceed with an empty context rather than aborting the turn.
type Retriever interface {
	Search(ctx context.Context, query string) (string, error)
	BusinessSummary(ctx context.Context) (string, error)
}

// Client queries a knowledge-base HTTP service.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

func NewClient(httpc *http.Client, baseURL string) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{
		HTTPClient: httpc,
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Context string `json:"context"`
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

// Search posts the query and returns the assembled context string. A response
// with a prebuilt context field wins; otherwise result texts are joined.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}
	body, err := json.Marshal(searchRequest{Query: query, TopK: 3})
	if err != nil {
		return "", fmt.Errorf("rag: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("rag: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("rag: search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("rag: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("rag: decode response: %w", err)
	}
	if out.Context != "" {
		return strings.TrimSpace(out.Context), nil
	}
	parts := make([]string, 0, len(out.Results))
	for _, r := range out.Results {
		if t := strings.TrimSpace(r.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// BusinessSummary fetches the short business description used to seed the
// opening line of a call.
func (c *Client) BusinessSummary(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/summary", nil)
	if err != nil {
		return "", fmt.Errorf("rag: build request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("rag: summary failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("rag: status %d", resp.StatusCode)
	}
	var out summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("rag: decode response: %w", err)
	}
	return strings.TrimSpace(out.Summary), nil
}

// Noop is the retriever used when no knowledge base is configured. Every call
// succeeds with an empty context.
type Noop struct{}

func (Noop) Search(context.Context, string) (string, error)  { return "", nil }
func (Noop) BusinessSummary(context.Context) (string, error) { return "", nil }
