// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package supervisor launches and tracks helper processes, primarily the
// local inference backend.
//
// Launch is non-blocking: it returns a Job handle immediately and reaps the
// process in the background. Combined stdout and stderr are captured and
// exposed on the handle once the process exits. A failed spawn also produces
// a Job handle, carrying the failure text, so the job list shows what was
// attempted and why it never ran.
//
// TerminateAll signals every live job and is safe to call more than once;
// already-finished or already-signaled jobs are skipped.
package supervisor
