// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"errors"
	"strings"
)

var (
	ErrInvalidChunk    = errors.New("invalid chunk")
	ErrMalformedResult = errors.New("malformed plugin result")
	ErrMissingConfig   = errors.New("missing required configuration")
)

// ContextError locates a failure on the event timeline. Operators use the
// identity fields to find the affected segment.
type ContextError struct {
	Op      string
	Program string
	Event   string
	Chunk   string
	Plugin  string
	Err     error
}

func (e *ContextError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	for _, kv := range [][2]string{
		{"program", e.Program}, {"event", e.Event}, {"chunk", e.Chunk}, {"plugin", e.Plugin},
	} {
		if kv[1] == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(kv[0])
		b.WriteString("=")
		b.WriteString(kv[1])
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ContextError) Unwrap() error { return e.Err }

// WrapChunk attaches chunk identity to err. Nil stays nil.
func WrapChunk(op string, c Chunk, plugin string, err error) error {
	if err == nil {
		return nil
	}
	return &ContextError{Op: op, Program: c.Program, Event: c.Event, Chunk: c.Filename(), Plugin: plugin, Err: err}
}
