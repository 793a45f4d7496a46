// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehallam/strand/internal/backend"
	"github.com/ehallam/strand/internal/model"
)

// =============================================================================
// TEST BACKEND
// =============================================================================

// fakeBackend speaks just enough of the sequences API for controller tests.
type fakeBackend struct {
	t *testing.T

	// streamLines are written one per line on continue/extend.
	streamLines []string

	// streamDelay paces the lines so tests can cancel mid-stream.
	streamDelay time.Duration

	// nextSequenceID is returned by POST /sequences.
	nextSequenceID int64

	// sequences served by GET /sequences/{id}.
	sequences map[string]backend.SequenceRecord

	creates atomic.Int32
	extends atomic.Int32
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/sequences":
		f.creates.Add(1)
		json.NewEncoder(w).Encode(backend.CreateSequenceResponse{SequenceID: f.nextSequenceID})

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/continue"),
		r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/extend"):
		if strings.HasSuffix(r.URL.Path, "/extend") {
			f.extends.Add(1)
		}
		flusher := w.(http.Flusher)
		// Send headers right away so the client's stream clock starts at
		// request time, not at the first fragment.
		flusher.Flush()
		for _, line := range f.streamLines {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(f.streamDelay):
			}
			w.Write([]byte(line + "\n"))
			flusher.Flush()
		}

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/sequences/"):
		id := strings.TrimPrefix(r.URL.Path, "/sequences/")
		rec, ok := f.sequences[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(rec)

	default:
		f.t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		http.NotFound(w, r)
	}
}

func newTestController(t *testing.T, fake *fakeBackend, opts ...Option) *Controller {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := backend.NewClientWithConfig(&backend.ClientConfig{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})
	return NewController(client, StaticSettings{Model: "llama3"}, opts...)
}

// waitIdle blocks until the controller returns to Idle after a turn.
func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == StateIdle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("controller stuck in state %v", c.State())
}

// waitReceiving blocks until stream events have started arriving.
func waitReceiving(t *testing.T, c *Controller) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == StateReceiving {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("controller never reached receiving, state %v", c.State())
}

// =============================================================================
// COMPLETE TURN
// =============================================================================

func TestSubmit_NewSequenceCompleteTurn(t *testing.T) {
	fake := &fakeBackend{
		t:              t,
		nextSequenceID: 11,
		streamLines: []string{
			`{"status":"thinking"}`,
			`{"message":{"content":"a"}}`,
			`{"message":{"content":"b"}}`,
			`{"message":{"content":"c"}}`,
			`{"done":true}`,
		},
	}
	c := newTestController(t, fake)

	require.NoError(t, c.Submit(context.Background(), "hello", SubmitOptions{}))
	waitIdle(t, c)

	seq := c.Sequence()
	assert.Equal(t, int64(11), seq.ServerID, "sequence should adopt the server id")
	require.Equal(t, 2, seq.MessageCount())

	assert.Equal(t, model.RoleUser, seq.Messages[0].Role)
	assert.Equal(t, "hello", seq.Messages[0].Content)

	reply := seq.Messages[1]
	assert.Equal(t, model.RoleAssistant, reply.Role)
	assert.Equal(t, "abc", reply.Content, "fragments must be applied in arrival order")
	assert.Equal(t, model.OriginComplete, reply.Origin)
	assert.Equal(t, "llama3", reply.Model, "settings default model should be used")

	assert.Equal(t, "", c.Status())
	assert.Equal(t, int32(1), fake.creates.Load())
}

func TestSubmit_PromotedMessageCarriesStreamStats(t *testing.T) {
	fake := &fakeBackend{
		t:              t,
		nextSequenceID: 7,
		streamDelay:    20 * time.Millisecond,
		streamLines: []string{
			`{"message":{"content":"a"}}`,
			`{"message":{"content":"b"}}`,
			`{"done":true}`,
		},
	}
	c := newTestController(t, fake)

	require.NoError(t, c.Submit(context.Background(), "hello", SubmitOptions{}))
	waitIdle(t, c)

	reply := c.Sequence().LastMessage()
	require.NotNil(t, reply)
	assert.Equal(t, model.RoleAssistant, reply.Role)
	assert.GreaterOrEqual(t, reply.TTFT, 10*time.Millisecond, "first fragment was delayed")
	assert.Greater(t, reply.TokensPerSecond, 0.0)
}

func TestSubmit_SavedSequenceUsesExtend(t *testing.T) {
	fake := &fakeBackend{
		t: t,
		streamLines: []string{
			`{"message":{"content":"more"}}`,
			`{"done":true}`,
		},
	}
	c := newTestController(t, fake)

	existing := model.NewSequence()
	existing.ServerID = 5
	existing.Append(model.NewUserMessage("earlier"))
	require.NoError(t, c.SetSequence(existing))

	require.NoError(t, c.Submit(context.Background(), "and then?", SubmitOptions{}))
	waitIdle(t, c)

	assert.Equal(t, int32(0), fake.creates.Load(), "saved sequence must not be recreated")
	assert.Equal(t, int32(1), fake.extends.Load())
	assert.Equal(t, 3, c.Sequence().MessageCount())
}

// =============================================================================
// BUSY / AT MOST ONE IN FLIGHT
// =============================================================================

func TestSubmit_RejectedWhileBusy(t *testing.T) {
	fake := &fakeBackend{
		t:              t,
		nextSequenceID: 1,
		streamDelay:    20 * time.Millisecond,
		streamLines: []string{
			`{"message":{"content":"slow"}}`,
			`{"message":{"content":"slow"}}`,
			`{"message":{"content":"slow"}}`,
			`{"done":true}`,
		},
	}
	c := newTestController(t, fake)

	require.NoError(t, c.Submit(context.Background(), "first", SubmitOptions{}))
	assert.ErrorIs(t, c.Submit(context.Background(), "second", SubmitOptions{}), ErrBusy)

	waitIdle(t, c)

	// Only the first prompt made it into the transcript.
	seq := c.Sequence()
	require.Equal(t, 2, seq.MessageCount())
	assert.Equal(t, "first", seq.Messages[0].Content)

	// Idle again: the next submit is accepted.
	require.NoError(t, c.Submit(context.Background(), "third", SubmitOptions{}))
	waitIdle(t, c)
}

// =============================================================================
// ERROR HANDLING
// =============================================================================

func TestSubmit_StreamFailurePreservesPartial(t *testing.T) {
	lines := []string{
		`{"message":{"content":"partial "}}`,
		`{"message":{"content":"answer"}}`,
	}
	// Enough consecutive garbage to exhaust decode tolerance.
	for i := 0; i < 8; i++ {
		lines = append(lines, "garbage")
	}

	fake := &fakeBackend{t: t, nextSequenceID: 2, streamLines: lines}
	c := newTestController(t, fake)

	require.NoError(t, c.Submit(context.Background(), "question", SubmitOptions{}))
	waitIdle(t, c)

	seq := c.Sequence()
	require.Equal(t, 3, seq.MessageCount(), "user + partial + error message")

	partial := seq.Messages[1]
	assert.Equal(t, model.RoleAssistant, partial.Role)
	assert.Equal(t, "partial answer", partial.Content, "streamed content must survive the failure")
	assert.Equal(t, model.OriginErrored, partial.Origin)
	assert.True(t, partial.IsPartial())

	assert.Equal(t, model.RoleError, seq.Messages[2].Role)
	assert.NotEmpty(t, c.Status(), "failure should leave a status")
}

func TestSubmit_BackendDownProducesErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := backend.NewClientWithConfig(&backend.ClientConfig{BaseURL: server.URL})
	c := NewController(client, StaticSettings{Model: "llama3"})

	require.NoError(t, c.Submit(context.Background(), "hello", SubmitOptions{}))
	waitIdle(t, c)

	seq := c.Sequence()
	require.Equal(t, 2, seq.MessageCount(), "user message + error, no phantom reply")
	assert.Equal(t, model.RoleError, seq.Messages[1].Role)
	assert.Contains(t, seq.Messages[1].Content, "not reachable")
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancel_PreservesPartialWithoutError(t *testing.T) {
	fake := &fakeBackend{
		t:              t,
		nextSequenceID: 3,
		streamDelay:    15 * time.Millisecond,
		streamLines: []string{
			`{"message":{"content":"keep "}}`,
			`{"message":{"content":"this"}}`,
			`{"message":{"content":" but not the rest"}}`,
			`{"message":{"content":" of it"}}`,
			`{"done":true}`,
		},
	}
	c := newTestController(t, fake)

	require.NoError(t, c.Submit(context.Background(), "go on", SubmitOptions{}))
	waitReceiving(t, c)
	c.Cancel()
	waitIdle(t, c)

	seq := c.Sequence()
	require.GreaterOrEqual(t, seq.MessageCount(), 2)

	last := seq.LastMessage()
	assert.Equal(t, model.RoleAssistant, last.Role, "cancel must not append an error message")
	assert.Equal(t, model.OriginCanceled, last.Origin)
	assert.NotEmpty(t, last.Content)
	assert.Equal(t, "stopped", c.Status())
}

func TestCancel_BeforeAnyContentLeavesNoReply(t *testing.T) {
	fake := &fakeBackend{
		t:              t,
		nextSequenceID: 4,
		streamDelay:    200 * time.Millisecond,
		streamLines: []string{
			`{"message":{"content":"never seen"}}`,
			`{"done":true}`,
		},
	}
	c := newTestController(t, fake)

	require.NoError(t, c.Submit(context.Background(), "hello", SubmitOptions{}))
	time.Sleep(20 * time.Millisecond)
	c.Cancel()
	waitIdle(t, c)

	seq := c.Sequence()
	require.Equal(t, 1, seq.MessageCount(), "empty partial must not become a message")
	assert.Equal(t, model.RoleUser, seq.Messages[0].Role)
}

func TestCancel_WhileIdleIsNoOp(t *testing.T) {
	fake := &fakeBackend{t: t}
	c := newTestController(t, fake)

	c.Cancel()
	assert.Equal(t, StateIdle, c.State())
}

// =============================================================================
// FORK ADOPTION
// =============================================================================

func TestSubmit_ForkAdoptsServerCopy(t *testing.T) {
	fake := &fakeBackend{
		t: t,
		streamLines: []string{
			`{"message":{"content":"branched reply"}}`,
			`{"done":true,"new_sequence_id":42}`,
		},
		sequences: map[string]backend.SequenceRecord{
			"42": {
				SequenceID: 42,
				Label:      "branched",
				Messages: []backend.MessageRecord{
					{Role: "user", Content: "earlier"},
					{Role: "user", Content: "branch point"},
					{Role: "assistant", Content: "branched reply"},
				},
			},
		},
	}
	c := newTestController(t, fake)

	existing := model.NewSequence()
	existing.ServerID = 7
	existing.Append(model.NewUserMessage("earlier"))
	require.NoError(t, c.SetSequence(existing))

	require.NoError(t, c.Submit(context.Background(), "branch point", SubmitOptions{}))
	waitIdle(t, c)

	seq := c.Sequence()
	assert.Equal(t, int64(42), seq.ServerID, "identity must move to the new sequence")
	require.Equal(t, 3, seq.MessageCount(), "history adopted wholesale from the server")
	assert.Equal(t, "branched reply", seq.LastMessage().Content)
	assert.Equal(t, "branched", seq.Label)
}

func TestSubmit_ForkFetchFailureKeepsLocalTranscript(t *testing.T) {
	fake := &fakeBackend{
		t: t,
		streamLines: []string{
			`{"message":{"content":"reply"}}`,
			`{"done":true,"new_sequence_id":99}`,
		},
		// No record for 99: the fetch 404s.
		sequences: map[string]backend.SequenceRecord{},
	}
	c := newTestController(t, fake)

	existing := model.NewSequence()
	existing.ServerID = 7
	require.NoError(t, c.SetSequence(existing))

	require.NoError(t, c.Submit(context.Background(), "hi", SubmitOptions{}))
	waitIdle(t, c)

	seq := c.Sequence()
	assert.Equal(t, int64(99), seq.ServerID, "identity still moves to the new sequence")
	assert.Equal(t, "reply", seq.LastMessage().Content, "streamed content survives the failed fetch")
	assert.NotEmpty(t, c.Status())
}

// =============================================================================
// STAY-AWAKE DISCIPLINE
// =============================================================================

func TestStayAwake_ReleasedOncePerTurn(t *testing.T) {
	var acquired, released atomic.Int32
	wake := func(reason string) (func(), error) {
		acquired.Add(1)
		return func() { released.Add(1) }, nil
	}

	runs := []struct {
		name   string
		lines  []string
		delay  time.Duration
		cancel bool
	}{
		{
			name:  "complete",
			lines: []string{`{"message":{"content":"x"}}`, `{"done":true}`},
		},
		{
			name:  "failure",
			lines: []string{`{"message":{"content":"x"}}`, "bad", "bad", "bad", "bad", "bad", "bad", "bad"},
		},
		{
			name:   "cancel",
			lines:  []string{`{"message":{"content":"x"}}`, `{"message":{"content":"y"}}`, `{"done":true}`},
			delay:  25 * time.Millisecond,
			cancel: true,
		},
	}

	for _, run := range runs {
		t.Run(run.name, func(t *testing.T) {
			before := acquired.Load()

			fake := &fakeBackend{t: t, nextSequenceID: 1, streamLines: run.lines, streamDelay: run.delay}
			server := httptest.NewServer(fake)
			t.Cleanup(server.Close)

			client := backend.NewClientWithConfig(&backend.ClientConfig{BaseURL: server.URL})
			c := NewController(client, StaticSettings{Model: "llama3", StayAwake: true}, WithStayAwake(wake))

			require.NoError(t, c.Submit(context.Background(), "hi", SubmitOptions{}))
			if run.cancel {
				waitReceiving(t, c)
				c.Cancel()
			}
			waitIdle(t, c)

			assert.Equal(t, before+1, acquired.Load(), "one acquisition per turn")
			assert.Equal(t, acquired.Load(), released.Load(), "every token released exactly once")
		})
	}
}

func TestStayAwake_NotAcquiredWhenStreamNeverOpens(t *testing.T) {
	var acquired atomic.Int32
	wake := func(string) (func(), error) {
		acquired.Add(1)
		return func() {}, nil
	}

	// A server that is already gone: the turn fails before any event arrives.
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	client := backend.NewClientWithConfig(&backend.ClientConfig{BaseURL: server.URL})
	c := NewController(client, StaticSettings{Model: "llama3", StayAwake: true}, WithStayAwake(wake))

	require.NoError(t, c.Submit(context.Background(), "hi", SubmitOptions{}))
	waitIdle(t, c)

	assert.Equal(t, int32(0), acquired.Load(), "no stream, no token")
}

func TestStayAwake_DisabledBySettings(t *testing.T) {
	var acquired atomic.Int32
	wake := func(string) (func(), error) {
		acquired.Add(1)
		return func() {}, nil
	}

	fake := &fakeBackend{t: t, nextSequenceID: 1, streamLines: []string{`{"done":true}`}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client := backend.NewClientWithConfig(&backend.ClientConfig{BaseURL: server.URL})
	c := NewController(client, StaticSettings{Model: "llama3"}, WithStayAwake(wake))
	// StaticSettings.StayAwake is false here.

	require.NoError(t, c.Submit(context.Background(), "hi", SubmitOptions{}))
	waitIdle(t, c)

	assert.Equal(t, int32(0), acquired.Load())
}

// =============================================================================
// OBSERVERS
// =============================================================================

func TestSubscribe_DeltasArriveInOrder(t *testing.T) {
	fake := &fakeBackend{
		t:              t,
		nextSequenceID: 1,
		streamLines: []string{
			`{"message":{"content":"a"}}`,
			`{"message":{"content":"b"}}`,
			`{"message":{"content":"c"}}`,
			`{"done":true}`,
		},
	}
	c := newTestController(t, fake)

	var deltas strings.Builder
	idle := make(chan struct{})
	unsubscribe := c.Subscribe(func(change StateChange) {
		deltas.WriteString(change.Delta)
		if change.State == StateIdle {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	require.NoError(t, c.Submit(context.Background(), "hi", SubmitOptions{}))

	select {
	case <-idle:
	case <-time.After(5 * time.Second):
		t.Fatal("never returned to idle")
	}

	assert.Equal(t, "abc", deltas.String())
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	fake := &fakeBackend{t: t, nextSequenceID: 1, streamLines: []string{`{"done":true}`}}
	c := newTestController(t, fake)

	var calls atomic.Int32
	unsubscribe := c.Subscribe(func(StateChange) { calls.Add(1) })
	unsubscribe()

	require.NoError(t, c.Submit(context.Background(), "hi", SubmitOptions{}))
	waitIdle(t, c)

	assert.Equal(t, int32(0), calls.Load())
}
