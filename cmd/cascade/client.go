package cascade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kamilpajak/cascade/pkg/models"
)

// serverClient talks to a running cascade API server.
type serverClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newServerClient(baseURL, token string) *serverClient {
	return &serverClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *serverClient) getThresholds(ctx context.Context) (*models.ThresholdConfig, error) {
	var cfg models.ThresholdConfig
	if err := c.do(ctx, http.MethodGet, "/api/thresholds", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *serverClient) updateThresholds(ctx context.Context, u models.ThresholdUpdate, updatedBy string) (*models.ThresholdConfig, error) {
	body := struct {
		models.ThresholdUpdate
		UpdatedBy string `json:"updated_by,omitempty"`
	}{u, updatedBy}

	var cfg models.ThresholdConfig
	if err := c.do(ctx, http.MethodPatch, "/api/thresholds", body, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *serverClient) thresholdHistory(ctx context.Context, limit int) ([]models.ThresholdConfig, error) {
	var resp struct {
		History []models.ThresholdConfig `json:"history"`
	}
	path := fmt.Sprintf("/api/thresholds/history?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

func (c *serverClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}
