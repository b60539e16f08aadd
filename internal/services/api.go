// Raw authenticated HTTP access to the Spotify Web API
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/spotsync/internal/shared"
)

// DefaultRequestTimeout bounds a single external call when no timeout is configured.
const DefaultRequestTimeout = 15 * time.Second

// APIService performs bearer-authenticated requests against the Spotify Web API.
//
// Every failure (transport, timeout, non-2xx status, unreadable body) is reported as a
// retryable [shared.ExternalAPIError].
type APIService struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewAPIService creates a new API service instance rooted at baseURL.
func NewAPIService(baseURL string, client *http.Client, timeout time.Duration) *APIService {
	if baseURL == "" {
		baseURL = spotifyBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &APIService{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: client,
		timeout:    timeout,
	}
}

// BaseURL returns the API root every relative target is resolved against.
func (a *APIService) BaseURL() string { return a.baseURL }

// APIResponse represents a successful API response.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Decode unmarshals the body into v, reporting malformed JSON as a retryable [shared.ExternalAPIError].
func (r *APIResponse) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return shared.NewExternalAPIError(r.StatusCode, "malformed response", err)
	}
	return nil
}

// Get performs a GET request to target with accessToken as bearer credential.
func (a *APIService) Get(ctx context.Context, accessToken, target string) (*APIResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.resolve(target), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, shared.NewExternalAPIError(0, "request timed out", fmt.Errorf("%w: %v", shared.ErrTimeout, err))
		}
		return nil, shared.NewExternalAPIError(0, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shared.NewExternalAPIError(resp.StatusCode, "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, shared.NewExternalAPIError(resp.StatusCode, upstreamMessage(body), nil)
	}

	return &APIResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

func (a *APIService) resolve(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	return a.baseURL + "/" + strings.TrimPrefix(target, "/")
}

// upstreamMessage extracts error.message from a Spotify error payload, falling back to the raw body.
func upstreamMessage(body []byte) string {
	var payload struct {
		Error struct {
			Status  int    `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
