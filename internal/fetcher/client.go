// SPDX-License-Identifier: AGPL-3.0-only
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://graph.facebook.com"

type Client struct {
	httpClient  http.Client
	baseURL     string
	maxPageSize int
}

func NewClient(timeout time.Duration, baseURL string, maxPageSize int) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if maxPageSize <= 0 {
		maxPageSize = 100
	}
	return &Client{
		httpClient: http.Client{
			Timeout: timeout,
		},
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxPageSize: maxPageSize,
	}
}

func (c *Client) clampPageSize(n int) int {
	if n <= 0 || n > c.maxPageSize {
		return c.maxPageSize
	}
	return n
}

func (c *Client) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	return data, resp.StatusCode, nil
}

func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "v24.0"
	}
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}
