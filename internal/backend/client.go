// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the backend client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
	ErrTypeDecode
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning       = &ClientError{Type: ErrTypeNotRunning, Message: "backend is not running"}
	ErrTimeout          = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrSequenceNotFound = &ClientError{Type: ErrTypeNotFound, Message: "sequence not found"}
)

// IsNotRunning checks if an error indicates the backend is unreachable.
func IsNotRunning(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeNotRunning
	}
	return errors.Is(err, ErrNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeTimeout
	}
	return errors.Is(err, ErrTimeout)
}

// IsNotFound checks if an error is a missing-sequence error.
func IsNotFound(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeNotFound
	}
	return errors.Is(err, ErrSequenceNotFound)
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the backend client.
type ClientConfig struct {
	// BaseURL is the backend API base URL (default: http://127.0.0.1:8017)
	// Explicit IPv4 address instead of localhost to avoid IPv6 resolution
	// issues on Windows.
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// AttemptInterval is the pause between retry-until-success discovery
	// attempts (default: 1s)
	AttemptInterval time.Duration

	// MaxDecodeFailures is the number of consecutive malformed stream events
	// tolerated before the stream is treated as broken (default: 5)
	MaxDecodeFailures int
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:           "http://127.0.0.1:8017",
		Timeout:           30 * time.Second,
		AttemptInterval:   1 * time.Second,
		MaxDecodeFailures: 5,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the sequences API.
//
// The Client is safe for concurrent use; one Client is shared by every open
// session and by the discovery loop.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new backend client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new backend client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8017"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.AttemptInterval == 0 {
		config.AttemptInterval = 1 * time.Second
	}
	if config.MaxDecodeFailures == 0 {
		config.MaxDecodeFailures = 5
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// GetConfig returns the client configuration.
func (c *Client) GetConfig() *ClientConfig {
	return c.config
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that the backend is reachable.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "unexpected status from backend: " + resp.Status,
		}
	}

	return nil
}

// =============================================================================
// SEQUENCE OPERATIONS
// =============================================================================

// CreateSequence persists a new sequence from an initial user message and
// returns its server-assigned identifier.
func (c *Client) CreateSequence(ctx context.Context, message, model string) (int64, error) {
	reqBody := CreateSequenceRequest{
		Message: MessagePayload{Role: "user", Content: message},
		Model:   model,
	}

	var result CreateSequenceResponse
	if err := c.postJSON(ctx, "/sequences", reqBody, &result); err != nil {
		return 0, err
	}
	if result.SequenceID == 0 {
		return 0, &ClientError{Type: ErrTypeInvalidResponse, Message: "backend returned no sequence_id"}
	}
	return result.SequenceID, nil
}

// GetSequence fetches one full sequence by id. Used directly after a fork to
// adopt the authoritative message history under the new identity.
func (c *Client) GetSequence(ctx context.Context, id int64) (*SequenceRecord, error) {
	var result SequenceRecord
	if err := c.getJSON(ctx, "/sequences/"+strconv.FormatInt(id, 10), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListSequences fetches the bulk sequence listing with optional filters.
func (c *Client) ListSequences(ctx context.Context, opts ListSequencesOptions) ([]SequenceRecord, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.LookbackDays > 0 {
		q.Set("lookback_days", strconv.Itoa(opts.LookbackDays))
	}
	if opts.PinnedOnly {
		q.Set("pinned", "true")
	}

	path := "/sequences"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result ListSequencesResponse
	if err := c.getJSON(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Sequences, nil
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

// getJSON performs a GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrSequenceNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp, "request failed")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

// postJSON performs a POST with a JSON body and decodes the JSON response.
func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrSequenceNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp, "request failed")
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

// statusError builds a ClientError from a non-2xx response, preferring the
// backend's own error message when the body carries one.
func (c *Client) statusError(resp *http.Response, fallback string) error {
	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: apiErr.Error}
	}
	return &ClientError{
		Type:    ErrTypeInvalidResponse,
		Message: fallback + ": " + resp.Status,
	}
}
