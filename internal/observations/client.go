package observations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jashan-lco/banzai/internal/dateutil"
)

// Client fetches observation blocks from the observation portal.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a portal client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type blocksResponse struct {
	Results []Block `json:"results"`
}

// GetCalibrationBlocks returns the blocks scheduled at a site overlapping
// [minDate, maxDate).
func (c *Client) GetCalibrationBlocks(ctx context.Context, site string, minDate, maxDate time.Time) ([]Block, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse portal address: %w", err)
	}
	q := u.Query()
	q.Set("site", site)
	q.Set("start_after", dateutil.Format(minDate))
	q.Set("start_before", dateutil.Format(maxDate))
	q.Set("proposal", "calibrate")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch observation blocks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("observation portal returned %s", resp.Status)
	}

	var payload blocksResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode observation blocks: %w", err)
	}
	return payload.Results, nil
}
