// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package supervisor

import (
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OutputPending is returned by Job.Output while the process is still running.
const OutputPending = "(still running)"

// JobState is the lifecycle state of a launched process.
type JobState int

const (
	StateRunning JobState = iota
	StateDone
	StateFailed // spawn never succeeded
)

func (s JobState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// =============================================================================
// JOB
// =============================================================================

// Job is the handle for one launched process. All accessors are safe for
// concurrent use.
type Job struct {
	ID        string
	Path      string
	Args      []string
	StartedAt time.Time

	mu          sync.Mutex
	cmd         *exec.Cmd
	state       JobState
	output      string
	completedAt time.Time
	signaled    bool
}

func newJob(path string, args []string) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Path:      path,
		Args:      args,
		StartedAt: time.Now(),
		state:     StateRunning,
	}
}

// finish records the terminal output and state exactly once. Later calls are
// ignored, so a signal racing a natural exit cannot double-complete the job.
func (j *Job) finish(state JobState, output string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StateRunning {
		return
	}
	j.state = state
	j.output = output
	j.completedAt = time.Now()
}

// State returns the job's current lifecycle state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done reports whether the process has exited (or never started).
func (j *Job) Done() bool {
	return j.State() != StateRunning
}

// Output returns the combined stdout and stderr, or OutputPending while the
// process is still running.
func (j *Job) Output() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state == StateRunning {
		return OutputPending
	}
	return j.output
}

// CompletedAt returns the exit time, zero while running.
func (j *Job) CompletedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.completedAt
}

// Command returns the job's command line for display.
func (j *Job) Command() string {
	if len(j.Args) == 0 {
		return j.Path
	}
	return j.Path + " " + strings.Join(j.Args, " ")
}
