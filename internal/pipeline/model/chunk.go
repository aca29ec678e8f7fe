// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"errors"
	"fmt"
	"math"
	"path"
)

// Chunk is one ingested unit of video (an HLS segment). It is immutable once created.
type Chunk struct {
	Program         string  `json:"program"`
	Event           string  `json:"event"`
	Profile         string  `json:"profile"`
	SequenceKey     string  `json:"sequenceKey"` // object key or filename
	StartTimeOffset float64 `json:"startTimeOffset"`
	DurationSeconds float64 `json:"durationSeconds"`
	FrameRate       float64 `json:"frameRate"`
	// Final marks the last chunk of the event; open segments are force-closed at its end.
	Final bool `json:"final,omitempty"`
}

// End is the exclusive video-relative end of the chunk.
func (c Chunk) End() float64 {
	return c.StartTimeOffset + c.DurationSeconds
}

// Contains reports whether offset falls inside [start, end).
func (c Chunk) Contains(offset float64) bool {
	return offset >= c.StartTimeOffset && offset < c.End()
}

// FrameCount is the number of frames the chunk carries at its frame rate.
func (c Chunk) FrameCount() int {
	if c.FrameRate <= 0 {
		return 0
	}
	return int(math.Round(c.DurationSeconds * c.FrameRate))
}

// Filename is the last path element of the sequence key.
func (c Chunk) Filename() string {
	return path.Base(c.SequenceKey)
}

// Validate rejects chunks that cannot be placed on the event timeline.
func (c Chunk) Validate() error {
	var errs []error
	if c.Program == "" {
		errs = append(errs, errors.New("program is required"))
	}
	if c.Event == "" {
		errs = append(errs, errors.New("event is required"))
	}
	if c.SequenceKey == "" {
		errs = append(errs, errors.New("sequence key is required"))
	}
	if c.StartTimeOffset < 0 || math.IsNaN(c.StartTimeOffset) {
		errs = append(errs, fmt.Errorf("start offset must be >= 0 (got %v)", c.StartTimeOffset))
	}
	if c.DurationSeconds <= 0 || math.IsNaN(c.DurationSeconds) {
		errs = append(errs, fmt.Errorf("duration must be > 0 (got %v)", c.DurationSeconds))
	}
	if c.FrameRate < 0 {
		errs = append(errs, fmt.Errorf("frame rate must be >= 0 (got %v)", c.FrameRate))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, errors.Join(errs...))
	}
	return nil
}

// PluginResult is one output row a plugin produced for a chunk. Append-only.
type PluginResult struct {
	PluginName  string         `json:"pluginName"`
	ChunkKey    string         `json:"chunkKey"`
	Label       string         `json:"label,omitempty"`
	StartOffset float64        `json:"start"`
	EndOffset   float64        `json:"end"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Duration of the labelled span in seconds.
func (r PluginResult) Duration() float64 {
	return r.EndOffset - r.StartOffset
}

// Validate rejects malformed boundary data.
func (r PluginResult) Validate() error {
	if r.PluginName == "" {
		return fmt.Errorf("%w: plugin name is required", ErrMalformedResult)
	}
	if math.IsNaN(r.StartOffset) || math.IsNaN(r.EndOffset) || r.EndOffset < r.StartOffset {
		return fmt.Errorf("%w: %s span [%v, %v] is not ordered", ErrMalformedResult, r.PluginName, r.StartOffset, r.EndOffset)
	}
	return nil
}
