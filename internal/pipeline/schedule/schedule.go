// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package schedule is the one-shot scheduler service: named entries that
// fire once at a wall-clock instant given as an at(...) expression.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	ErrNotFound      = errors.New("schedule not found")
	ErrAlreadyExists = errors.New("schedule already exists")
	ErrInvalid       = errors.New("invalid schedule")
)

// atLayout is the literal inside at(...); fire times have whole-second precision.
const atLayout = "2006-01-02T15:04:05"

var atExpr = regexp.MustCompile(`^at\((\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})\)$`)

// FormatAt renders t as at(YYYY-MM-DDTHH:MM:SS) in UTC, truncating fractions.
func FormatAt(t time.Time) string {
	return "at(" + t.UTC().Truncate(time.Second).Format(atLayout) + ")"
}

// ParseAt decodes an at(...) expression into a UTC instant.
func ParseAt(expr string) (time.Time, error) {
	m := atExpr.FindStringSubmatch(expr)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: expression %q is not at(YYYY-MM-DDTHH:MM:SS)", ErrInvalid, expr)
	}
	t, err := time.ParseInLocation(atLayout, m[1], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return t, nil
}

// Entry is one stored schedule.
type Entry struct {
	Name       string          `json:"name"`
	Expression string          `json:"expression"`
	Target     string          `json:"target,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	// Fired is set when the target ran but the entry could not be removed.
	Fired     bool      `json:"fired,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FireAt decodes the entry's expression.
func (e Entry) FireAt() (time.Time, error) { return ParseAt(e.Expression) }

func (e Entry) validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalid)
	}
	if len(e.Name) > MaxNameLength {
		return fmt.Errorf("%w: name %q longer than %d", ErrInvalid, e.Name, MaxNameLength)
	}
	_, err := ParseAt(e.Expression)
	return err
}

// MaxNameLength bounds schedule names.
const MaxNameLength = 64

// Page is one page of a prefix listing. Next is empty on the last page.
type Page struct {
	Entries []Entry
	Next    string
}

// Service is the scheduler API the lifecycle scheduler drives.
type Service interface {
	Create(ctx context.Context, e Entry) error
	// Update overwrites expression, target and payload of an existing entry.
	Update(ctx context.Context, e Entry) error
	Delete(ctx context.Context, name string) error
	Get(ctx context.Context, name string) (Entry, error)
	List(ctx context.Context, prefix, cursor string, limit int) (Page, error)
}

// ListAll follows List cursors until exhausted.
func ListAll(ctx context.Context, s Service, prefix string) ([]Entry, error) {
	var (
		out    []Entry
		cursor string
	)
	for {
		page, err := s.List(ctx, prefix, cursor, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Entries...)
		if page.Next == "" {
			return out, nil
		}
		cursor = page.Next
	}
}
