// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingConfig is returned when Build is called without a config holder.
	ErrMissingConfig = errors.New("config holder is required")

	// ErrUnknownBackend is returned for an unsupported bus, schedule or sink backend.
	ErrUnknownBackend = errors.New("unknown backend")
)
