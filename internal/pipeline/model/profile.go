// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// PluginRef names a plugin configured in a processing profile.
type PluginRef struct {
	Name             string         `json:"name" yaml:"name"`
	DependentPlugins []string       `json:"dependentPlugins,omitempty" yaml:"dependentPlugins,omitempty"`
	Configuration    map[string]any `json:"configuration,omitempty" yaml:"configuration,omitempty"`
}

// Profile is the per-event processing profile. Classifier and Optimizer carry
// state across chunks and are gated by the completion coordinator.
type Profile struct {
	Name       string      `json:"name" yaml:"name"`
	ChunkSize  int         `json:"chunkSize" yaml:"chunkSize"`
	Classifier *PluginRef  `json:"classifier,omitempty" yaml:"classifier,omitempty"`
	Optimizer  *PluginRef  `json:"optimizer,omitempty" yaml:"optimizer,omitempty"`
	Labeler    *PluginRef  `json:"labeler,omitempty" yaml:"labeler,omitempty"`
	Featurers  []PluginRef `json:"featurers,omitempty" yaml:"featurers,omitempty"`
	// AudioTracks lists the tracks optimizers produce per-track boundaries for.
	AudioTracks []string `json:"audioTracks,omitempty" yaml:"audioTracks,omitempty"`
}
