// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

package supervisor

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// =============================================================================
// SUPERVISOR
// =============================================================================

// Supervisor launches helper processes and keeps a handle for each one.
type Supervisor struct {
	mu   sync.Mutex
	jobs []*Job
}

// New creates an empty supervisor.
func New() *Supervisor {
	return &Supervisor{}
}

// Launch starts path with args and returns immediately with a Job handle.
// On spawn failure the error is returned and a failed Job is still recorded,
// so the attempt and its failure text stay visible in the job list.
func (s *Supervisor) Launch(path string, args ...string) (*Job, error) {
	job := newJob(path, args)

	cmd := exec.Command(path, args...)
	cmd.Env = os.Environ()
	cmd.SysProcAttr = sysProcAttr()

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		job.finish(StateFailed, fmt.Sprintf("failed to start: %v", err))
		s.record(job)
		return job, fmt.Errorf("launch %s: %w", path, err)
	}

	job.mu.Lock()
	job.cmd = cmd
	job.mu.Unlock()

	s.record(job)

	// Reap in the background; the buffer is safe to read once Wait returns.
	go func() {
		err := cmd.Wait()
		output := buf.String()
		if err != nil {
			if output != "" {
				output += "\n"
			}
			output += err.Error()
		}
		job.finish(StateDone, output)
	}()

	return job, nil
}

func (s *Supervisor) record(job *Job) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
}

// Jobs returns a snapshot of all launched jobs, oldest first.
func (s *Supervisor) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Running returns the jobs that have not exited yet.
func (s *Supervisor) Running() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Job
	for _, j := range s.jobs {
		if j.State() == StateRunning {
			out = append(out, j)
		}
	}
	return out
}

// TerminateAll signals every live job to shut down. Idempotent: jobs already
// finished or already signaled are skipped, so calling this from several
// shutdown paths is harmless.
func (s *Supervisor) TerminateAll() {
	s.mu.Lock()
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, job := range jobs {
		job.mu.Lock()
		skip := job.state != StateRunning || job.signaled || job.cmd == nil
		if !skip {
			job.signaled = true
		}
		cmd := job.cmd
		job.mu.Unlock()

		if skip {
			continue
		}
		terminate(cmd)
	}
}
