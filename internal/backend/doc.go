// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend provides the HTTP client for the model-serving sequences
// API.
//
// The backend exposes persisted conversation threads ("sequences") and a
// streaming generation protocol:
//
//	POST /sequences                    create a sequence from a first message
//	POST /sequences/{id}/continue      generate with no new user message
//	POST /sequences/{id}/extend        append a user message, then generate
//	GET  /sequences                    bulk listing with filters
//	GET  /sequences/{id}               fetch one full sequence
//	GET  /providers/any/.discover      provider discovery
//	GET  /providers/any/any/models     model discovery
//
// Streaming responses carry one JSON object per event, written as the backend
// produces them. The client decodes incrementally and never buffers a whole
// response.
//
// Discovery calls have retry-until-success variants because the backend is
// usually co-located and still starting when the client comes up; the
// application cannot do anything useful before the first successful
// discovery.
//
// Streaming requests are never retried by this package. A broken stream has
// already surfaced partial output to the session layer, so retry is a user
// decision (resubmit), not a transport one.
package backend
