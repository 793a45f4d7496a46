// Copyright (c) 2025 Evan Hallam
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for strand.
//
// Configuration is TOML with sensible defaults and environment variable
// overrides. Locations, in order of precedence:
//   - STRAND_* environment variables
//   - ~/.strand/config.toml
//   - Built-in defaults
//
// A Watcher can follow the config file with fsnotify and reload the global
// configuration when it changes on disk. Session controllers read settings at
// submit time, so a reload takes effect on the next turn.
package config
