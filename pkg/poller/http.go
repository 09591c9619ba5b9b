package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"
)

// HTTPClient is the stock StatusClient over the service's JSON API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{baseURL: baseURL, http: httpClient}
}

func (c *HTTPClient) Status(ctx context.Context, jobID string) (domain.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return domain.StatusResponse{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.StatusResponse{}, fmt.Errorf("poll request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var status domain.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return domain.StatusResponse{}, fmt.Errorf("decode status: %w", err)
		}
		return status, nil

	case http.StatusNotFound:
		return domain.StatusResponse{}, domain.ErrJobNotFound

	case http.StatusTooManyRequests:
		return domain.StatusResponse{}, &RetryAfterError{RetryAfter: retryAfter(resp)}

	default:
		return domain.StatusResponse{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
