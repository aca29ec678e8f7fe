// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package replay

import (
	"context"
	"time"

	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/metrics"
	"github.com/ManuGH/mre/internal/pipeline/model"
)

// Entry is one segment of an assembled replay.
type Entry struct {
	Start      float64        `json:"start"`
	End        float64        `json:"end"`
	OptoStart  *float64       `json:"optoStart,omitempty"`
	OptoEnd    *float64       `json:"optoEnd,omitempty"`
	Score      float64        `json:"score"`
	Features   []string       `json:"features,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Document is the export format of a replay.
type Document struct {
	Name          string    `json:"name"`
	Program       string    `json:"program"`
	Event         string    `json:"event"`
	Profile       string    `json:"profile,omitempty"`
	Mode          Mode      `json:"mode"`
	Track         string    `json:"track,omitempty"`
	GeneratedAt   time.Time `json:"generatedAt"`
	TotalDuration float64   `json:"totalDuration"`
	Entries       []Entry   `json:"entries"`
	Dropped       int       `json:"dropped"`
}

// Assemble matches each result to the segment it came from: by
// SegmentStart when the result carries it, otherwise by exact Start or the
// track's OptoStart. When a start names two different segments, the one
// whose end agrees with the result wins. Unmatched or ambiguous results are
// logged and dropped.
func Assemble(ctx context.Context, segments []model.Segment, results []Result, track string) ([]Entry, int) {
	byStart := make(map[float64]model.Segment, len(segments))
	byOpto := make(map[float64]model.Segment)
	for _, seg := range segments {
		byStart[seg.Start] = seg
		if o, ok := seg.Opto[track]; ok && track != "" {
			byOpto[o.OptoStart] = seg
		}
	}

	entries := make([]Entry, 0, len(results))
	dropped := 0
	for _, r := range results {
		seg, reason := match(r, track, byStart, byOpto)
		if reason != "" {
			dropped++
			metrics.RecordReplayDrop(reason)
			log.FromContext(ctx).Warn().
				Float64(log.FieldStart, r.Start).
				Float64(log.FieldEnd, r.End).
				Str(log.FieldTrack, track).
				Str("reason", reason).
				Msg("replay result matches no single segment; dropped")
			continue
		}
		e := Entry{
			Start:      seg.Start,
			End:        seg.EndOr(r.End),
			Score:      r.Score,
			Features:   r.Features,
			Attributes: seg.Attributes,
		}
		if o, ok := seg.Opto[track]; ok && track != "" {
			start := o.OptoStart
			e.OptoStart = &start
			e.OptoEnd = o.OptoEnd
		}
		entries = append(entries, e)
	}
	return entries, dropped
}

// Build selects, assembles and wraps segments into a document.
func Build(ctx context.Context, segments []model.Segment, req Request, now time.Time) (Document, error) {
	results, err := Select(segments, req)
	if err != nil {
		return Document{}, err
	}
	entries, dropped := Assemble(ctx, segments, results, req.Track)
	doc := Document{
		Name:        req.Name,
		Program:     req.Program,
		Event:       req.Event,
		Profile:     req.Profile,
		Mode:        req.Mode,
		Track:       req.Track,
		GeneratedAt: now.UTC(),
		Entries:     entries,
		Dropped:     dropped,
	}
	for _, e := range entries {
		doc.TotalDuration += e.duration()
	}
	metrics.RecordReplayAssembled(string(req.Mode))
	return doc, nil
}

func match(r Result, track string, byStart, byOpto map[float64]model.Segment) (model.Segment, string) {
	if r.SegmentStart != nil {
		seg, ok := byStart[*r.SegmentStart]
		if !ok {
			return model.Segment{}, "no_matching_segment"
		}
		return seg, ""
	}
	viaOpto, optoOK := byOpto[r.Start]
	viaStart, startOK := byStart[r.Start]
	switch {
	case optoOK && startOK && viaOpto.Start != viaStart.Start:
		optoEnd := boundaryEnd(viaOpto, track, r.End)
		startEnd := viaStart.EndOr(r.End)
		switch {
		case optoEnd == r.End && startEnd != r.End:
			return viaOpto, ""
		case startEnd == r.End && optoEnd != r.End:
			return viaStart, ""
		}
		return model.Segment{}, "ambiguous_start"
	case optoOK:
		return viaOpto, ""
	case startOK:
		return viaStart, ""
	}
	return model.Segment{}, "no_matching_segment"
}

// boundaryEnd is the end Select reports for seg on track.
func boundaryEnd(seg model.Segment, track string, def float64) float64 {
	if o, ok := seg.Opto[track]; ok && o.OptoEnd != nil {
		return *o.OptoEnd
	}
	return seg.EndOr(def)
}

// duration uses the track boundaries when the entry has them.
func (e Entry) duration() float64 {
	start, end := e.Start, e.End
	if e.OptoStart != nil {
		start = *e.OptoStart
	}
	if e.OptoEnd != nil {
		end = *e.OptoEnd
	}
	return end - start
}
