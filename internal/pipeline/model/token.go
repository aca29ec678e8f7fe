// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"fmt"
	"time"
)

// TokenStatus is the completion state of one (chunk, plugin) execution.
type TokenStatus string

const (
	TokenWaiting    TokenStatus = "WAITING"
	TokenInProgress TokenStatus = "IN_PROGRESS"
	TokenError      TokenStatus = "ERROR"
	TokenComplete   TokenStatus = "COMPLETE"
)

// IsTerminal returns true once the token no longer blocks later chunks.
func (s TokenStatus) IsTerminal() bool {
	return s == TokenComplete || s == TokenError
}

// ChunkCompletionToken orders multi-chunk plugin executions across chunks.
type ChunkCompletionToken struct {
	Program       string      `json:"program"`
	Event         string      `json:"event"`
	ChunkFilename string      `json:"chunkFilename"`
	ChunkStart    float64     `json:"chunkStart"`
	PluginName    string      `json:"pluginName"`
	Class         PluginClass `json:"class"`
	Status        TokenStatus `json:"status"`
	Reason        string      `json:"reason,omitempty"`
	UpdatedAt     time.Time   `json:"updatedAt"`

	Version int64 `json:"-"`
}

// PluginClass is the closed set of plugin classes whose state spans chunks.
type PluginClass string

const (
	ClassClassifier PluginClass = "Classifier"
	ClassOptimizer  PluginClass = "Optimizer"
)

type classSpec struct {
	section func(*Profile) *PluginRef
}

var classSpecs = map[PluginClass]classSpec{
	ClassClassifier: {section: func(p *Profile) *PluginRef { return p.Classifier }},
	ClassOptimizer:  {section: func(p *Profile) *PluginRef { return p.Optimizer }},
}

// ParsePluginClass validates a class name.
func ParsePluginClass(s string) (PluginClass, error) {
	c := PluginClass(s)
	if _, ok := classSpecs[c]; !ok {
		return "", fmt.Errorf("unknown multi-chunk plugin class %q", s)
	}
	return c, nil
}

// PluginFor returns the profile sub-config the class reads, or nil if unset.
func (c PluginClass) PluginFor(p *Profile) *PluginRef {
	spec, ok := classSpecs[c]
	if !ok || p == nil {
		return nil
	}
	return spec.section(p)
}

// MultiChunkClasses lists every class in gating order.
func MultiChunkClasses() []PluginClass {
	return []PluginClass{ClassClassifier, ClassOptimizer}
}
