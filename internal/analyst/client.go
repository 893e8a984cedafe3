// Package analyst wraps the external AI analytics service that answers
// questions about an uploaded CSV. Its internals are opaque to this
// service; only the question/answer contract is consumed.
package analyst

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Client calls the analyst service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents an analyst service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs an analyst client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type chatRequest struct {
	Message string `json:"message"`
	FileID  string `json:"fileId,omitempty"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// Answer asks a question about the referenced file and returns the
// analyst's reply. A deadline on ctx bounds the whole call; deadline
// expiry surfaces as context.DeadlineExceeded so callers can treat it
// as retryable.
func (c *Client) Answer(ctx context.Context, question, fileID string) (string, error) {
	payload, err := json.Marshal(chatRequest{Message: question, FileID: fileID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", context.DeadlineExceeded
		}
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = errResp.Detail
		}
		if msg == "" {
			msg = resp.Status
		}
		return "", &APIError{Status: resp.StatusCode, Message: msg}
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Response, nil
}
