package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/moorlabs/driftsync/internal/models"
)

// Transport carries push and pull to the server of record. Tests wire a
// direct in-process implementation over the sync service.
type Transport interface {
	Push(ctx context.Context, req models.PushRequest) (*models.PushResponse, error)
	Pull(ctx context.Context, req models.PullRequest) (*models.PullResponse, error)
}

// HTTPTransport speaks the sync API over HTTP with a bearer token.
type HTTPTransport struct {
	baseURL   string
	projectID string
	token     string
	client    *http.Client
}

func NewHTTPTransport(baseURL, projectID, token string) *HTTPTransport {
	return &HTTPTransport{
		baseURL:   baseURL,
		projectID: projectID,
		token:     token,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *HTTPTransport) Push(ctx context.Context, req models.PushRequest) (*models.PushResponse, error) {
	var resp models.PushResponse
	if err := t.post(ctx, "/sync/push", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) Pull(ctx context.Context, req models.PullRequest) (*models.PullResponse, error) {
	var resp models.PullResponse
	if err := t.post(ctx, "/sync/pull", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s%s", t.baseURL, t.projectID, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Code != "" {
			return fmt.Errorf("%s: %s (%s)", path, errResp.Message, errResp.Code)
		}
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
