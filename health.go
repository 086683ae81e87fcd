package meiliguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const healthPath = "health"

// HealthStatusAvailable is the status the service reports once it serves requests
const HealthStatusAvailable = "available"

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status string `json:"status"`
}

// ServiceClient talks to the search service HTTP API with the launch credential
type ServiceClient struct {
	baseURL    *url.URL
	credential AccessCredential
	client     *http.Client
}

// NewServiceClient creates a client for the service at serverURL
func NewServiceClient(serverURL string, credential AccessCredential, client *http.Client) (*ServiceClient, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("service url %q needs a scheme and host", serverURL)
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")

	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &ServiceClient{
		baseURL:    parsedURL,
		credential: credential,
		client:     client,
	}, nil
}

// URL returns the service base URL
func (c *ServiceClient) URL() string {
	return c.baseURL.String()
}

// HTTPClient returns the underlying client for index collaborators
func (c *ServiceClient) HTTPClient() *http.Client {
	return c.client
}

// NewRequest builds an authenticated request for path relative to the base URL
func (c *ServiceClient) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if !c.credential.IsZero() {
		req.Header.Set("Authorization", "Bearer "+c.credential.Secret())
	}
	return req, nil
}

// Health queries the health endpoint
func (c *ServiceClient) Health(ctx context.Context) (HealthResponse, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, healthPath, nil)
	if err != nil {
		return HealthResponse{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return HealthResponse{}, &OpError{Op: OpHealth, Path: req.URL.String(), Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return HealthResponse{}, &OpError{Op: OpHealth, Path: req.URL.String(), Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	var hr HealthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&hr); err != nil {
		return HealthResponse{}, &OpError{Op: OpHealth, Path: req.URL.String(), Err: err}
	}
	if hr.Status != HealthStatusAvailable {
		return hr, &OpError{Op: OpHealth, Path: req.URL.String(), Err: errors.New("service reported " + hr.Status)}
	}
	return hr, nil
}

// WaitHealthy probes Health with exponential backoff until it succeeds,
// attempts run out or ctx ends, and returns the last error.
func (c *ServiceClient) WaitHealthy(ctx context.Context, attempts int, minBackoff, maxBackoff time.Duration) error {
	var lastErr error
	backoff := minBackoff

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if _, lastErr = c.Health(ctx); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
