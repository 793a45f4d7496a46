// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader parses a response body as a series of JSON event objects.
//
// The backend emits one object per line, but the reader makes no framing
// assumption: the decoder consumes exactly one JSON value at a time, so
// several objects packed into one read, or one object split across reads,
// parse identically.
type StreamReader struct {
	br      *bufio.Reader
	decoder *json.Decoder

	// consecutive malformed events seen; resets on every good event
	decodeFailures int
	maxFailures    int

	tokenCount int
	firstToken time.Time
	startTime  time.Time
}

// NewStreamReader creates a stream reader over an io.Reader.
func NewStreamReader(r io.Reader, maxDecodeFailures int) *StreamReader {
	if maxDecodeFailures <= 0 {
		maxDecodeFailures = 5
	}
	br := bufio.NewReader(r)
	return &StreamReader{
		br:          br,
		decoder:     json.NewDecoder(br),
		maxFailures: maxDecodeFailures,
		startTime:   time.Now(),
	}
}

// Process reads events and calls the callback for each one, in arrival order.
// Blocks until the stream finishes, fails, or the context is cancelled.
// After cancellation no further callbacks are made.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		event, err := s.readEvent()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if event == nil {
			continue
		}

		// Re-check after the blocking read so a cancelled turn never
		// observes a late event.
		if err := ctx.Err(); err != nil {
			return err
		}

		if event.Done {
			stats := s.Stats()
			event.Stats = &stats
		}
		callback(*event)
		if event.Done {
			return nil
		}
	}
}

// readEvent decodes the next JSON object from the stream. A malformed event
// returns (nil, nil) so the caller skips it, unless too many arrive in a row.
func (s *StreamReader) readEvent() (*StreamEvent, error) {
	var event StreamEvent
	err := s.decoder.Decode(&event)
	if err == nil {
		s.decodeFailures = 0
		if content := event.Content(); content != "" {
			s.tokenCount++
			if s.firstToken.IsZero() {
				s.firstToken = time.Now()
			}
		}
		return &event, nil
	}
	if err == io.EOF {
		return nil, io.EOF
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
		// Transport failure mid-stream, not a parse problem.
		return nil, &ClientError{Type: ErrTypeConnection, Message: "stream read failed", Cause: err}
	}

	s.decodeFailures++
	if s.decodeFailures >= s.maxFailures {
		return nil, &ClientError{
			Type:    ErrTypeDecode,
			Message: "stream is not valid JSON",
			Cause:   err,
		}
	}

	if err := s.resync(); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &ClientError{Type: ErrTypeConnection, Message: "stream read failed", Cause: err}
	}
	return nil, nil
}

// resync discards input up to the next newline and rebuilds the decoder.
// The decoder buffers ahead of the reader, so its unread remainder has to be
// stitched back in front before skipping.
func (s *StreamReader) resync() error {
	rest := io.MultiReader(s.decoder.Buffered(), s.br)
	br := bufio.NewReader(rest)
	if _, err := br.ReadBytes('\n'); err != nil {
		return err
	}
	s.br = br
	s.decoder = json.NewDecoder(br)
	return nil
}

// Stats returns timing statistics for the stream so far. Process stamps the
// final snapshot onto the done event, so callers driven by callbacks get the
// measurements without holding the reader.
func (s *StreamReader) Stats() StreamStats {
	stats := StreamStats{
		StartTime: s.startTime,
		Tokens:    s.tokenCount,
	}
	if !s.firstToken.IsZero() {
		stats.TTFT = s.firstToken.Sub(s.startTime)
		elapsed := time.Since(s.firstToken).Seconds()
		if elapsed > 0 {
			stats.TokensPerSecond = float64(s.tokenCount) / elapsed
		}
	}
	return stats
}

// StreamStats holds timing statistics collected during a stream.
type StreamStats struct {
	StartTime       time.Time
	TTFT            time.Duration
	Tokens          int
	TokensPerSecond float64
}

// =============================================================================
// STREAMING REQUESTS
// =============================================================================

// StreamCallback is called for each event received during streaming.
type StreamCallback func(event StreamEvent)

// Continue asks the backend to generate the next model turn for an existing
// sequence and streams the result. The callback is called synchronously in
// arrival order; Continue returns when the stream completes or fails.
//
// A broken stream is never retried here. The partial text already delivered
// would be regenerated differently on a second attempt, so retry is the
// caller's decision once the partial has been preserved.
func (c *Client) Continue(ctx context.Context, sequenceID int64, req ContinueRequest, callback StreamCallback) error {
	path := "/sequences/" + strconv.FormatInt(sequenceID, 10) + "/continue"
	return c.stream(ctx, path, req, callback)
}

// Extend appends a user message to an existing sequence and streams the
// model's reply.
func (c *Client) Extend(ctx context.Context, sequenceID int64, req ExtendRequest, callback StreamCallback) error {
	path := "/sequences/" + strconv.FormatInt(sequenceID, 10) + "/extend"
	return c.stream(ctx, path, req, callback)
}

// stream performs a streaming POST and feeds the body through a StreamReader.
func (c *Client) stream(ctx context.Context, path string, in interface{}, callback StreamCallback) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	// Use a client without timeout for streaming; generation can take
	// arbitrarily long and cancellation arrives via the context.
	streamClient := &http.Client{}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := streamClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return context.Canceled
		}
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
		return c.statusError(resp, "stream request failed")
	}

	reader := NewStreamReader(resp.Body, c.config.MaxDecodeFailures)
	return reader.Process(ctx, callback)
}

// =============================================================================
// CHANNEL VARIANTS
// =============================================================================

// ContinueChan is like Continue but delivers events on a channel. The channel
// is closed when the stream ends; a failure arrives as a chunk with Err set.
func (c *Client) ContinueChan(ctx context.Context, sequenceID int64, req ContinueRequest) <-chan StreamChunk {
	return c.streamChan(ctx, func(cb StreamCallback) error {
		return c.Continue(ctx, sequenceID, req, cb)
	})
}

// ExtendChan is like Extend but delivers events on a channel.
func (c *Client) ExtendChan(ctx context.Context, sequenceID int64, req ExtendRequest) <-chan StreamChunk {
	return c.streamChan(ctx, func(cb StreamCallback) error {
		return c.Extend(ctx, sequenceID, req, cb)
	})
}

func (c *Client) streamChan(ctx context.Context, run func(StreamCallback) error) <-chan StreamChunk {
	ch := make(chan StreamChunk)

	go func() {
		defer close(ch)

		err := run(func(event StreamEvent) {
			select {
			case ch <- StreamChunk{Event: event}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			select {
			case ch <- StreamChunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return ch
}
