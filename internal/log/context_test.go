// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextIDs(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		set  func(context.Context, string) context.Context
		get  func(context.Context) string
	}{
		{"request id nil ctx", nil, ContextWithRequestID, RequestIDFromContext},
		{"correlation id", context.Background(), ContextWithCorrelationID, CorrelationIDFromContext},
		{"execution id", context.Background(), ContextWithExecutionID, ExecutionIDFromContext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := tt.set(tt.ctx, "id-123")
			require.Equal(t, "id-123", tt.get(ctx))
		})
	}
}

func TestIDFromContextEmpty(t *testing.T) {
	require.Empty(t, RequestIDFromContext(nil))
	require.Empty(t, ExecutionIDFromContext(context.Background()))
	require.Empty(t, CorrelationIDFromContext(context.WithValue(context.Background(), correlationIDKey, 42)))
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "mre-test"})
	t.Cleanup(func() { Configure(Config{}) })

	ctx := ContextWithExecutionID(context.Background(), "exec-1")
	ctx = ContextWithCorrelationID(ctx, "corr-1")
	l := WithComponentFromContext(ctx, "segment")
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "segment", entry[FieldComponent])
	require.Equal(t, "exec-1", entry[FieldExecutionID])
	require.Equal(t, "corr-1", entry[FieldCorrelationID])
	require.Equal(t, "mre-test", entry["service"])
}

func TestWithContextNoFieldsReturnsSameLogger(t *testing.T) {
	base := WithComponent("test")
	got := WithContext(context.Background(), base)
	require.Equal(t, base.GetLevel(), got.GetLevel())
}
