package smtp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/dispatch/internal/pkg/httpretry"
)

// Sentinel outcomes of a forward attempt. The session maps them to SMTP
// reply codes: rejected is permanent (554), deferred asks the client to
// retry later (451).
var (
	ErrRejected = errors.New("message rejected")
	ErrDeferred = errors.New("message deferred")
)

// Forwarder hands a parsed message to the send API.
type Forwarder interface {
	Forward(ctx context.Context, apiKey string, msg *Message) (id string, err error)
}

// APIForwarder posts messages to the dispatch API with the session's API
// key as bearer token.
type APIForwarder struct {
	baseURL string
	client  httpretry.HTTPDoer
	timeout time.Duration
}

// NewAPIForwarder creates a forwarder against the given API base URL. A
// nil client gets a retrying default.
func NewAPIForwarder(baseURL string, client httpretry.HTTPDoer) *APIForwarder {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 2)
	}
	return &APIForwarder{baseURL: baseURL, client: client, timeout: 30 * time.Second}
}

func (f *APIForwarder) Forward(ctx context.Context, apiKey string, msg *Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v1/emails", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeferred, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		var out struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", nil
		}
		return out.ID, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: api answered %d", ErrDeferred, resp.StatusCode)
	default:
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = fmt.Sprintf("api answered %d", resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, apiErr.Error)
	}
}
