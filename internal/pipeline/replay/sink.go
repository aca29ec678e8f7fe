// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/metrics"
)

// Sink stores an encoded document under key and returns where it landed.
type Sink interface {
	Name() string
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// ObjectKey is the sink key of a document: program/event/replay.json.
func ObjectKey(doc Document) string {
	name := doc.Name
	if name == "" {
		name = "replay"
	}
	return filepath.ToSlash(filepath.Join(doc.Program, doc.Event, name+".json"))
}

// Export encodes doc and writes it to sink.
func Export(ctx context.Context, sink Sink, doc Document) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode replay %s: %w", doc.Name, err)
	}
	loc, err := sink.Write(ctx, ObjectKey(doc), data)
	if err != nil {
		metrics.RecordExport(sink.Name(), "error")
		return "", fmt.Errorf("export replay %s to %s: %w", doc.Name, sink.Name(), err)
	}
	metrics.RecordExport(sink.Name(), "success")
	log.FromContext(ctx).Info().
		Str(log.FieldProgram, doc.Program).
		Str(log.FieldEvent, doc.Event).
		Str("location", loc).
		Int("entries", len(doc.Entries)).
		Msg("replay exported")
	return loc, nil
}

// NopSink discards documents.
type NopSink struct{}

func (NopSink) Name() string { return "none" }

func (NopSink) Write(context.Context, string, []byte) (string, error) { return "", nil }

// FileSink writes documents below a directory, replacing files atomically.
type FileSink struct {
	Dir string
}

func (FileSink) Name() string { return "file" }

func (s FileSink) Write(ctx context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return "", fmt.Errorf("create pending export file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			log.FromContext(ctx).Debug().Err(err).Msg("cleanup pending export file")
		}
	}()
	if _, err := pending.Write(data); err != nil {
		return "", fmt.Errorf("write export data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("atomically replace export file: %w", err)
	}
	return path, nil
}
