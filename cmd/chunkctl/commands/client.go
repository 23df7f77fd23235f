package commands

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

// apiClient is a thin HTTP client for the chunkdex server API.
type apiClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

type queryRequest struct {
	Terms       string    `json:"terms,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
	K           int       `json:"k,omitempty"`
	RankProfile string    `json:"rank_profile,omitempty"`
}

type queryHit struct {
	ID      string            `json:"id"`
	Score   float64           `json:"score"`
	Summary map[string]string `json:"summary"`
}

type queryResponse struct {
	Results []queryHit `json:"results"`
	Count   int        `json:"count"`
}

type ingestRequest struct {
	Source string `json:"source,omitempty"`
	Text   string `json:"text"`
}

type ingestReport struct {
	ResourceID  string `json:"resource_id"`
	Chunks      int    `json:"chunks"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	TotalTokens int    `json:"total_tokens"`
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type topologyReport struct {
	Redundancy int `json:"redundancy"`
	Nodes      []struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"nodes"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (c *apiClient) ingest(ctx context.Context, source, text string) (ingestReport, error) {
	var report ingestReport
	err := c.do(ctx, http.MethodPost, "/ingest", ingestRequest{Source: source, Text: text}, &report)
	return report, err
}

func (c *apiClient) query(ctx context.Context, req queryRequest) (queryResponse, error) {
	var resp queryResponse
	err := c.do(ctx, http.MethodPost, "/query", req, &resp)
	return resp, err
}

func (c *apiClient) getChunk(ctx context.Context, id string) (map[string]string, error) {
	var summary map[string]string
	err := c.do(ctx, http.MethodGet, "/chunks/"+id, nil, &summary)
	return summary, err
}

func (c *apiClient) deleteChunk(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/chunks/"+id, nil, nil)
}

// health decodes the report on any status: a degraded or unhealthy server
// answers 503 but the body still says which component failed.
func (c *apiClient) health(ctx context.Context) (healthReport, error) {
	url := strings.TrimRight(c.baseURL, "/") + "/healthz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return healthReport{}, fmt.Errorf("build request: %w", err)
	}

	httpc := c.httpc
	if httpc == nil {
		httpc = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return healthReport{}, fmt.Errorf("GET /healthz: %w", err)
	}
	defer resp.Body.Close()

	var report healthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return healthReport{}, fmt.Errorf("decode health report: %w", err)
	}
	return report, nil
}

func (c *apiClient) topology(ctx context.Context) (topologyReport, error) {
	var report topologyReport
	err := c.do(ctx, http.MethodGet, "/topology", nil, &report)
	return report, err
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	url := strings.TrimRight(c.baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpc := c.httpc
	if httpc == nil {
		httpc = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var ae apiError
		if err := json.NewDecoder(resp.Body).Decode(&ae); err != nil || ae.Code == "" {
			return fmt.Errorf("%s %s: server returned %s", method, path, resp.Status)
		}
		return &ae
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
