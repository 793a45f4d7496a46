// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"

	"github.com/ehallam/strand/internal/backend"
	"github.com/ehallam/strand/internal/model"
)

// =============================================================================
// STATES
// =============================================================================

// State is the controller's turn state.
type State int

const (
	// StateIdle means no turn is in flight; Submit is accepted.
	StateIdle State = iota

	// StateSubmitting means the request is sent but no event has arrived.
	StateSubmitting

	// StateReceiving means stream events are arriving.
	StateReceiving

	// StateCancelling means a stop was requested and the stream is winding
	// down. Transient; the turn still ends through the normal finish path.
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateReceiving:
		return "receiving"
	case StateCancelling:
		return "cancelling"
	default:
		return "unknown"
	}
}

// ErrBusy is returned by Submit while a turn is already in flight.
var ErrBusy = errors.New("a turn is already in flight")

// =============================================================================
// OBSERVERS
// =============================================================================

// StateChange is delivered to observers on every externally visible change.
type StateChange struct {
	State    State
	Status   string
	Sequence *model.Sequence

	// Delta is the content fragment that triggered this change, "" when the
	// change carried no new content.
	Delta string
}

// Observer receives state changes. Called outside the controller's lock;
// observers may call back into the controller.
type Observer func(StateChange)

// =============================================================================
// CANCEL MANAGER
// =============================================================================

// cancelManager guards the in-flight turn's cancel function. The cancel can
// arrive from any goroutine while the turn goroutine is swapping it.
type cancelManager struct {
	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

func (cm *cancelManager) set(fn context.CancelFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cancelFunc = fn
}

// cancel invokes the stored cancel function and clears it. Safe to call more
// than once or with nothing stored.
func (cm *cancelManager) cancel() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.cancelFunc != nil {
		cm.cancelFunc()
		cm.cancelFunc = nil
	}
}

// clear cancels any stored function to avoid leaking the turn context.
func (cm *cancelManager) clear() {
	cm.cancel()
}

// =============================================================================
// CONTROLLER
// =============================================================================

// WakeFunc starts a sleep inhibitor and returns its release function.
type WakeFunc func(reason string) (release func(), err error)

// Controller drives one conversation against the backend, one turn at a time.
type Controller struct {
	client   *backend.Client
	settings Settings
	resolver *ForkResolver

	// acquireWake is nil when stay-awake is not wired.
	acquireWake WakeFunc

	mu          sync.Mutex
	seq         *model.Sequence
	pending     *model.PendingResponse
	state       State
	status      string
	generation  uint64
	releaseWake func()
	cancelMgr   cancelManager

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// Option configures a Controller.
type Option func(*Controller)

// WithStayAwake wires a sleep inhibitor source. The controller acquires when
// the first streamed event arrives, settings allowing, and releases exactly
// once per turn. A turn whose stream never opens holds no token.
func WithStayAwake(acquire WakeFunc) Option {
	return func(c *Controller) {
		c.acquireWake = acquire
	}
}

// NewController creates a controller for a fresh, unsaved sequence.
func NewController(client *backend.Client, settings Settings, opts ...Option) *Controller {
	c := &Controller{
		client:    client,
		settings:  settings,
		resolver:  NewForkResolver(client),
		seq:       model.NewSequence(),
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current turn state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the current status text, "" when there is nothing to show.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Sequence returns the controller's sequence. The controller appends to it
// between notifications; observers should treat it as read-only.
func (c *Controller) Sequence() *model.Sequence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// PendingContent returns the partial reply accumulated by the in-flight turn.
func (c *Controller) PendingContent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return ""
	}
	return c.pending.Content()
}

// SetSequence replaces the controller's sequence, e.g. when the user opens a
// past conversation. Rejected while a turn is in flight.
func (c *Controller) SetSequence(seq *model.Sequence) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrBusy
	}
	c.seq = seq
	c.status = ""
	return nil
}

// Subscribe registers an observer and returns its unsubscribe function.
func (c *Controller) Subscribe(fn Observer) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// notify delivers a change to all observers, outside every lock.
func (c *Controller) notify(change StateChange) {
	c.obsMu.Lock()
	observers := make([]Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range observers {
		fn(change)
	}
}

func (c *Controller) snapshotLocked(delta string) StateChange {
	return StateChange{
		State:    c.state,
		Status:   c.status,
		Sequence: c.seq,
		Delta:    delta,
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitOptions carries per-turn overrides.
type SubmitOptions struct {
	// Model overrides the settings default for this turn.
	Model string

	// Options are passed through to the backend; nil uses backend defaults
	// plus the auto-retrieval setting.
	Options *backend.GenerationOptions
}

// Submit starts a turn: the prompt becomes a user message and the model's
// reply streams in. Returns ErrBusy while a turn is in flight. Submit itself
// returns as soon as the turn is started; progress arrives via observers.
func (c *Controller) Submit(ctx context.Context, prompt string, opts SubmitOptions) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}

	modelName := opts.Model
	if modelName == "" {
		modelName = c.settings.DefaultModel()
	}
	genOpts := opts.Options
	if genOpts == nil && c.settings.AutoRetrievalEnabled() {
		genOpts = &backend.GenerationOptions{Retrieval: true}
	}

	c.generation++
	gen := c.generation
	c.state = StateSubmitting
	c.status = "sending"
	c.seq.Append(model.NewUserMessage(prompt))
	c.pending = model.NewPendingResponse(modelName)

	turnCtx, cancel := context.WithCancel(ctx)
	c.cancelMgr.set(cancel)

	seq := c.seq
	change := c.snapshotLocked("")
	c.mu.Unlock()

	c.notify(change)

	go c.runTurn(turnCtx, gen, seq, prompt, modelName, genOpts)
	return nil
}

// Cancel stops the in-flight turn, if any. The partial reply accumulated so
// far is kept; the turn winds down through the normal finish path.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.state != StateSubmitting && c.state != StateReceiving {
		c.mu.Unlock()
		return
	}
	c.state = StateCancelling
	c.status = "stopping"
	change := c.snapshotLocked("")
	c.mu.Unlock()

	c.notify(change)
	c.cancelMgr.cancel()
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

// runTurn performs the blocking work of one turn on its own goroutine.
func (c *Controller) runTurn(ctx context.Context, gen uint64, seq *model.Sequence, prompt, modelName string, genOpts *backend.GenerationOptions) {
	var doneEvent *backend.StreamEvent
	callback := func(event backend.StreamEvent) {
		if event.Done {
			ev := event
			doneEvent = &ev
		}
		c.handleEvent(gen, event)
	}

	var err error
	if !seq.Saved() {
		// First turn: persist the sequence, then stream its first reply.
		var id int64
		id, err = c.client.CreateSequence(ctx, prompt, modelName)
		if err == nil {
			c.mu.Lock()
			if gen == c.generation {
				seq.ServerID = id
			}
			c.mu.Unlock()

			err = c.client.Continue(ctx, id, backend.ContinueRequest{
				Model:   modelName,
				Options: genOpts,
			}, callback)
		}
	} else {
		err = c.client.Extend(ctx, seq.ServerID, backend.ExtendRequest{
			Message: backend.MessagePayload{Role: "user", Content: prompt},
			Model:   modelName,
			Options: genOpts,
		}, callback)
	}

	c.finishTurn(gen, doneEvent, err)
}

// handleEvent applies one stream event. Events from a superseded or finished
// turn are dropped.
func (c *Controller) handleEvent(gen uint64, event backend.StreamEvent) {
	c.mu.Lock()
	if gen != c.generation || (c.state != StateSubmitting && c.state != StateReceiving) {
		c.mu.Unlock()
		return
	}

	if c.state == StateSubmitting {
		c.state = StateReceiving
		// The stream is open now; keep the machine awake until the turn
		// settles. finishTurn owns the matching release.
		if c.acquireWake != nil && c.settings.StayAwakeEnabled() && c.releaseWake == nil {
			if release, err := c.acquireWake("streaming model reply"); err == nil {
				c.releaseWake = release
			}
		}
	}
	if event.Status != "" {
		c.status = event.Status
	}

	delta := event.Content()
	if delta != "" {
		c.pending.Append(delta)
	}

	change := c.snapshotLocked(delta)
	c.mu.Unlock()

	c.notify(change)
}

// finishTurn ends the turn: promotes any partial content, adopts a fork,
// releases the stay-awake token, and returns to Idle. Every turn, however it
// ended, passes through here exactly once.
func (c *Controller) finishTurn(gen uint64, doneEvent *backend.StreamEvent, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}

	pending := c.pending
	c.pending = nil
	release := c.releaseWake
	c.releaseWake = nil
	c.cancelMgr.clear()

	canceled := errors.Is(err, context.Canceled) || c.state == StateCancelling
	forked := err == nil && !canceled && doneEvent != nil && doneEvent.NewSequenceID != 0

	if forked {
		// The reply now lives in the server's copy of the new sequence;
		// resolve outside the lock and adopt wholesale.
		newID := doneEvent.NewSequenceID
		c.mu.Unlock()
		if release != nil {
			release()
		}
		c.adoptFork(gen, newID, pending)
		return
	}

	seq := c.seq
	switch {
	case canceled:
		if msg, ok := pending.Promote(model.OriginCanceled); ok {
			seq.Append(msg)
		}
		c.status = "stopped"
	case err != nil:
		if msg, ok := pending.Promote(model.OriginErrored); ok {
			seq.Append(msg)
		}
		desc := describeError(err)
		seq.Append(model.NewErrorMessage(desc))
		c.status = desc
	default:
		if msg, ok := pending.Promote(model.OriginComplete); ok {
			// Prefer the stream reader's timing; it is measured from the
			// request rather than the submit.
			if doneEvent != nil && doneEvent.Stats != nil {
				msg.TTFT = doneEvent.Stats.TTFT
				msg.TokensPerSecond = doneEvent.Stats.TokensPerSecond
			}
			seq.Append(msg)
		}
		c.status = ""
	}

	c.state = StateIdle
	change := c.snapshotLocked("")
	c.mu.Unlock()

	if release != nil {
		release()
	}
	c.notify(change)
}

// adoptFork fetches the forked sequence and swaps it in. On fetch failure the
// local transcript is kept with the partial promoted, so nothing is lost even
// when the authoritative copy is unreachable.
func (c *Controller) adoptFork(gen uint64, newID int64, pending *model.PendingResponse) {
	adopted, err := c.resolver.Resolve(context.Background(), newID)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}

	if err == nil {
		c.seq = adopted
		c.status = ""
	} else {
		if msg, ok := pending.Promote(model.OriginComplete); ok {
			c.seq.Append(msg)
		}
		c.seq.ServerID = newID
		c.status = "reloading the conversation failed: " + err.Error()
	}

	c.state = StateIdle
	change := c.snapshotLocked("")
	c.mu.Unlock()

	c.notify(change)
}

// describeError turns a turn failure into transcript-worthy text.
func describeError(err error) string {
	switch {
	case backend.IsNotRunning(err):
		return "the inference backend is not reachable"
	case backend.IsTimeout(err):
		return "the request timed out"
	case backend.IsNotFound(err):
		return "this conversation no longer exists on the backend"
	default:
		return "the reply failed: " + err.Error()
	}
}
