// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mre/internal/pipeline/model"
)

func closed(start, end float64, attrs map[string]any) model.Segment {
	return model.Segment{Program: "p", Event: "e", Start: start, End: model.Float(end), State: model.SegmentClosed, Attributes: attrs}
}

var segments = []model.Segment{
	closed(0, 30, map[string]any{"goal": true}),
	closed(30, 50, map[string]any{"foul": true}),
	closed(50, 110, map[string]any{"goal": true, "replay": true}),
	closed(110, 120, nil),
	{Start: 120, State: model.SegmentOpen},
}

var weights = map[string]float64{"goal": 10, "foul": 3, "replay": 2}

func starts(rs []Result) []float64 {
	out := make([]float64, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Start)
	}
	return out
}

func TestSelectByFeatureWeight(t *testing.T) {
	got, err := Select(segments, Request{Program: "p", Event: "e", Mode: ModeFeature, Weights: weights, MinScore: 5})
	require.NoError(t, err)
	if diff := cmp.Diff([]float64{0, 50}, starts(got)); diff != "" {
		t.Fatalf("selection mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 12.0, got[1].Score)
	assert.Equal(t, []string{"goal", "replay"}, got[1].Features)
}

func TestSelectByDurationBudget(t *testing.T) {
	// Highest score first: 50-110 (60s) and 0-30 (30s) fit, 30-50 (20s)
	// overflows the remaining 10s, 110-120 (10s) fills it.
	got, err := Select(segments, Request{Program: "p", Event: "e", Mode: ModeDuration, Weights: weights, TargetDuration: 100})
	require.NoError(t, err)
	if diff := cmp.Diff([]float64{0, 50, 110}, starts(got)); diff != "" {
		t.Fatalf("selection mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectRejectsBadRequests(t *testing.T) {
	_, err := Select(segments, Request{Program: "p", Event: "e", Mode: ModeDuration})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = Select(segments, Request{Program: "p", Event: "e", Mode: "random"})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAssembleMatchesStartOrOptoStart(t *testing.T) {
	segs := []model.Segment{
		closed(0, 30, nil),
		closed(30, 60, nil),
	}
	segs[1].Opto = map[string]model.OptoBoundary{"2": {OptoStart: 31.5, OptoEnd: model.Float(59)}}

	results := []Result{{Start: 0, End: 30}, {Start: 31.5, End: 59}, {Start: 99, End: 100}}
	entries, dropped := Assemble(context.Background(), segs, results, "2")
	assert.Equal(t, 1, dropped)
	require.Len(t, entries, 2)
	assert.Equal(t, 0.0, entries[0].Start)
	assert.Nil(t, entries[0].OptoStart)
	assert.Equal(t, 30.0, entries[1].Start)
	assert.Equal(t, 31.5, *entries[1].OptoStart)
	assert.Equal(t, 59.0, *entries[1].OptoEnd)
}

func TestAssembleResolvesOptoStartCollidingWithAnotherStart(t *testing.T) {
	a := closed(10, 12, map[string]any{"foul": true})
	a.Opto = map[string]model.OptoBoundary{"1": {OptoStart: 12}}
	b := closed(12, 30, map[string]any{"goal": true})
	segs := []model.Segment{a, b}

	entries, dropped := Assemble(context.Background(), segs, []Result{{Start: 12, End: 30}}, "1")
	assert.Zero(t, dropped)
	require.Len(t, entries, 1)
	assert.Equal(t, 12.0, entries[0].Start)
	assert.Equal(t, 30.0, entries[0].End)
	assert.Equal(t, b.Attributes, entries[0].Attributes)

	_, dropped = Assemble(context.Background(), []model.Segment{closed(10, 30, nil), closed(12, 30, nil)},
		[]Result{{Start: 12, End: 30}}, "")
	assert.Zero(t, dropped, "without a track only canonical starts match")

	// Both candidates end where the result ends: nothing tells them apart.
	c := closed(5, 30, nil)
	c.Opto = map[string]model.OptoBoundary{"1": {OptoStart: 12}}
	_, dropped = Assemble(context.Background(), []model.Segment{c, closed(12, 30, nil)},
		[]Result{{Start: 12, End: 30}}, "1")
	assert.Equal(t, 1, dropped)
}

func TestBuildKeepsSelectedSegmentOnCollision(t *testing.T) {
	a := closed(10, 12, map[string]any{"foul": true})
	a.Opto = map[string]model.OptoBoundary{"1": {OptoStart: 12, OptoEnd: model.Float(13)}}
	b := closed(12, 30, map[string]any{"goal": true})

	doc, err := Build(context.Background(), []model.Segment{a, b},
		Request{Program: "p", Event: "e", Mode: ModeFeature, Weights: weights, Track: "1"}, time.Now())
	require.NoError(t, err)
	require.Len(t, doc.Entries, 2)
	assert.Zero(t, doc.Dropped)
	assert.Equal(t, 10.0, doc.Entries[0].Start)
	assert.Equal(t, 12.0, *doc.Entries[0].OptoStart)
	assert.Equal(t, 12.0, doc.Entries[1].Start)
	assert.Nil(t, doc.Entries[1].OptoStart)
	assert.Equal(t, map[string]any{"goal": true}, doc.Entries[1].Attributes)
	assert.Equal(t, 19.0, doc.TotalDuration)
}

func TestBuildUsesTrackBoundaries(t *testing.T) {
	segs := []model.Segment{closed(10, 40, map[string]any{"goal": 1.0})}
	segs[0].Opto = map[string]model.OptoBoundary{"en": {OptoStart: 9, OptoEnd: model.Float(41)}}
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	doc, err := Build(context.Background(), segs, Request{Name: "r1", Program: "p", Event: "e", Mode: ModeFeature, Weights: weights, Track: "en"}, now)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	assert.Equal(t, 10.0, doc.Entries[0].Start)
	assert.Equal(t, 9.0, *doc.Entries[0].OptoStart)
	assert.Equal(t, 32.0, doc.TotalDuration, "track boundaries 9-41")
	assert.Zero(t, doc.Dropped)
	assert.Equal(t, now, doc.GeneratedAt)
}

func TestFileSinkWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	doc := Document{Name: "r1", Program: "p", Event: "e", Mode: ModeFeature, Entries: []Entry{{Start: 1, End: 2}}}

	loc, err := Export(context.Background(), FileSink{Dir: dir}, doc)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(loc, "p/e/r1.json"))

	raw, err := os.ReadFile(loc)
	require.NoError(t, err)
	var back Document
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, doc.Entries, back.Entries)

	doc.Entries = nil
	_, err = Export(context.Background(), FileSink{Dir: dir}, doc)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir + "/p/e")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestMinioSinkUploadsObject(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := NewMinioSink(MinioConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "minio", SecretKey: "minio123", Bucket: "exports",
	})
	require.NoError(t, err)

	loc, err := Export(context.Background(), sink, Document{Name: "r1", Program: "p", Event: "e"})
	require.NoError(t, err)
	assert.Equal(t, "s3://exports/p/e/r1.json", loc)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, paths, "PUT /exports/p/e/r1.json")
}

func TestNewMinioSinkNeedsBucket(t *testing.T) {
	_, err := NewMinioSink(MinioConfig{Endpoint: "localhost:9000"})
	require.Error(t, err)
}
