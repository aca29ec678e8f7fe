// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Sep joins key components.
const Sep = "#"

// maxRune sorts after every valid UTF-8 continuation of a prefix.
const maxRune = "\xff"

// Key joins components into a partition or sort key.
func Key(parts ...string) string {
	return strings.Join(parts, Sep)
}

// FloatKey renders a non-negative offset so that bytewise order matches
// numeric order. Offsets are kept to microsecond precision.
func FloatKey(f float64) string {
	if f < 0 || math.IsNaN(f) {
		f = 0
	}
	return fmt.Sprintf("%017.6f", f)
}

// ParseFloatKey reverses FloatKey.
func ParseFloatKey(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

type predicate int

const (
	predAll predicate = iota
	predEquals
	predBeginsWith
	predBetween
	predGTE
	predLTE
)

// SortKey is a sort-key condition for Query.
type SortKey struct {
	pred   predicate
	lo, hi string
}

func All() SortKey { return SortKey{pred: predAll} }
func Equals(sk string) SortKey { return SortKey{pred: predEquals, lo: sk, hi: sk} }
func BeginsWith(prefix string) SortKey { return SortKey{pred: predBeginsWith, lo: prefix, hi: prefix + maxRune} }
func Between(lo, hi string) SortKey { return SortKey{pred: predBetween, lo: lo, hi: hi} }
func GreaterOrEqual(lo string) SortKey { return SortKey{pred: predGTE, lo: lo} }
func LessOrEqual(hi string) SortKey { return SortKey{pred: predLTE, hi: hi} }

// Match reports whether sk satisfies the condition.
func (k SortKey) Match(sk string) bool {
	switch k.pred {
	case predEquals:
		return sk == k.lo
	case predBeginsWith:
		return strings.HasPrefix(sk, k.lo)
	case predBetween:
		return sk >= k.lo && sk <= k.hi
	case predGTE:
		return sk >= k.lo
	case predLTE:
		return sk <= k.hi
	}
	return true
}

// bounds returns the inclusive byte range the condition can match.
func (k SortKey) bounds() (lo string, hasLo bool, hi string, hasHi bool) {
	switch k.pred {
	case predEquals, predBeginsWith, predBetween:
		return k.lo, true, k.hi, true
	case predGTE:
		return k.lo, true, "", false
	case predLTE:
		return "", false, k.hi, true
	}
	return "", false, "", false
}

func (k SortKey) String() string {
	switch k.pred {
	case predEquals:
		return "= " + k.lo
	case predBeginsWith:
		return "begins_with " + k.lo
	case predBetween:
		return "between " + k.lo + " and " + k.hi
	case predGTE:
		return ">= " + k.lo
	case predLTE:
		return "<= " + k.hi
	}
	return "*"
}
