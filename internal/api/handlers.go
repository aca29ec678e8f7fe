// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/pipeline/lifecycle"
	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/replay"
	"github.com/ManuGH/mre/internal/pipeline/segment"
	"github.com/ManuGH/mre/internal/pipeline/worker"
)

// POST /api/v1/events
func (s *Server) handleRegisterEvent(w http.ResponseWriter, r *http.Request) {
	var spec lifecycle.EventSpec
	if err := decodeJSON(w, r, &spec); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := log.ContextWithCorrelationID(r.Context(), log.RequestIDFromContext(r.Context()))
	rec, err := s.deps.Scheduler.RegisterEvent(ctx, spec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GET /api/v1/events/{program}/{event}
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Scheduler.GetEvent(r.Context(), chi.URLParam(r, "program"), chi.URLParam(r, "event"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// POST /api/v1/events/{program}/{event}/complete
func (s *Server) handleCompleteEvent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Scheduler.ConfirmComplete(r.Context(), chi.URLParam(r, "program"), chi.URLParam(r, "event"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// POST /api/v1/chunks
func (s *Server) handleIngestChunk(w http.ResponseWriter, r *http.Request) {
	var job worker.ChunkJob
	if err := decodeJSON(w, r, &job); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Ingestor.Ingest(r.Context(), job); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"chunk":  job.Chunk.Filename(),
	})
}

// SegmentsResponse lists one segment stream.
type SegmentsResponse struct {
	Program  string          `json:"program"`
	Event    string          `json:"event"`
	Profile  string          `json:"profile"`
	Plugin   string          `json:"plugin"`
	Segments []model.Segment `json:"segments"`
}

// GET /api/v1/segments?program=&event=&profile=&plugin=
func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := s.segmentKey(q.Get("program"), q.Get("event"), q.Get("profile"), q.Get("plugin"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	key.Track = q.Get("track")
	segs, err := s.deps.Tracker.ListSegments(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if segs == nil {
		segs = []model.Segment{}
	}
	writeJSON(w, http.StatusOK, SegmentsResponse{
		Program:  key.Program,
		Event:    key.Event,
		Profile:  key.Profile,
		Plugin:   key.Plugin,
		Segments: segs,
	})
}

// ExportResponse reports where a replay landed.
type ExportResponse struct {
	Location string          `json:"location,omitempty"`
	Sink     string          `json:"sink"`
	Document replay.Document `json:"document"`
}

// POST /api/v1/replays
func (s *Server) handleExportReplay(w http.ResponseWriter, r *http.Request) {
	var req replay.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	key, err := s.segmentKey(req.Program, req.Event, req.Profile, req.Plugin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	segs, err := s.deps.Tracker.ListSegments(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := replay.Build(r.Context(), segs, req, s.deps.Clock.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	loc, err := replay.Export(r.Context(), s.deps.Sink, doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExportResponse{Location: loc, Sink: s.deps.Sink.Name(), Document: doc})
}

// POST /api/v1/schedules/sweep
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Scheduler.Sweep(r.Context())
	if err != nil {
		// Partial failures still carry a useful report.
		log.FromContext(r.Context()).Warn().Err(err).Int("failed", len(report.Failed)).Msg("manual sweep had failures")
		writeJSON(w, http.StatusMultiStatus, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// segmentKey resolves the classifier plugin from the profile when plugin is empty.
func (s *Server) segmentKey(program, event, profile, plugin string) (segment.Key, error) {
	if program == "" || event == "" || profile == "" {
		return segment.Key{}, fmt.Errorf("%w: program, event and profile are required", errBadBody)
	}
	if plugin == "" {
		prof, ok := s.deps.Profiles.Profile(profile)
		if !ok {
			return segment.Key{}, fmt.Errorf("%w: profile %q", model.ErrMissingConfig, profile)
		}
		if prof.Classifier == nil {
			return segment.Key{}, fmt.Errorf("%w: profile %q has no classifier", model.ErrMissingConfig, profile)
		}
		plugin = prof.Classifier.Name
	}
	return segment.Key{Program: program, Event: event, Profile: profile, Plugin: plugin}, nil
}
