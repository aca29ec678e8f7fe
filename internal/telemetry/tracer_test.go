// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))

	_, span := Start(context.Background(), "test", "noop")
	assert.False(t, span.SpanContext().IsValid())
	End(span, nil)
}

func TestUnsupportedExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, ExporterType: "zipkin"})
	require.ErrorContains(t, err, "unsupported exporter type")
}

func TestSpansCarryChunkAttributes(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	p := NewProviderWithProcessor(rec)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	attrs := append(ChunkAttributes("nfl", "wk1", "seg_2.ts", 20), PluginAttributes("SegmentByCommercials", "Classifier")...)
	_, span := Start(context.Background(), "workflow", "chunk.process", attrs...)
	End(span, errors.New("boom"))

	ended := rec.Ended()
	require.Len(t, ended, 1)
	s := ended[0]
	assert.Equal(t, "chunk.process", s.Name())
	assert.Equal(t, codes.Error, s.Status().Code)
	assert.Contains(t, s.Attributes(), attribute.String(ProgramKey, "nfl"))
	assert.Contains(t, s.Attributes(), attribute.Float64(ChunkStartKey, 20))
	assert.Contains(t, s.Attributes(), attribute.String(PluginClassKey, "Classifier"))
}
