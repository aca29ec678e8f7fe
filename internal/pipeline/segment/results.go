// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segment

import (
	"context"
	"fmt"
	"sort"

	"github.com/ManuGH/mre/internal/metrics"
	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/store"
)

// Results persists plugin output rows, partitioned by (program, event, plugin)
// and sorted by start offset.
type Results struct {
	st store.Store
}

func NewResults(st store.Store) *Results {
	return &Results{st: st}
}

func resultsPK(program, event, plugin string) string {
	return store.Key("res", program, event, plugin)
}

// Save writes rows for one chunk. Re-saving the same chunk overwrites the
// same keys, so redelivered chunks do not duplicate rows.
func (r *Results) Save(ctx context.Context, program, event string, rows []model.PluginResult) error {
	seq := make(map[string]int)
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			return err
		}
		n := seq[row.PluginName+row.ChunkKey]
		seq[row.PluginName+row.ChunkKey] = n + 1

		sk := store.Key(store.FloatKey(row.StartOffset), row.ChunkKey, fmt.Sprintf("%04d", n))
		if _, err := store.PutAs(ctx, r.st, resultsPK(program, event, row.PluginName), sk, row, store.Condition{}); err != nil {
			return fmt.Errorf("save %s result at %v: %w", row.PluginName, row.StartOffset, err)
		}
	}
	for plugin, n := range countByPlugin(rows) {
		metrics.AddPluginResults(plugin, n)
	}
	return nil
}

// Query returns the plugin's rows whose start lies in [from, to), ordered by start.
func (r *Results) Query(ctx context.Context, program, event, plugin string, from, to float64) ([]model.PluginResult, error) {
	if to <= from {
		return nil, nil
	}
	items, err := store.QueryAll(ctx, r.st, resultsPK(program, event, plugin),
		store.Between(store.FloatKey(from), store.FloatKey(to)), false)
	if err != nil {
		return nil, err
	}
	out := make([]model.PluginResult, 0, len(items))
	for _, it := range items {
		row, err := store.Decode[model.PluginResult](it)
		if err != nil {
			return nil, err
		}
		if row.StartOffset < from || row.StartOffset >= to {
			continue
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartOffset < out[j].StartOffset })
	return out, nil
}

func countByPlugin(rows []model.PluginResult) map[string]int {
	out := make(map[string]int)
	for _, r := range rows {
		out[r.PluginName]++
	}
	return out
}
