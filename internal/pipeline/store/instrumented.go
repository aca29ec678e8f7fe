// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mre_store_ops_total",
			Help: "Total store operations",
		},
		[]string{"backend", "op", "result"}, // result=success/condition_failed/not_found/error
	)
	storeLat = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mre_store_op_seconds",
			Help:    "Store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)
)

// instrumentedStore wraps any Store to capture metrics.
type instrumentedStore struct {
	inner   Store
	backend string
}

// NewInstrumentedStore records per-op counts and latency for inner.
func NewInstrumentedStore(inner Store, backend string) Store {
	return &instrumentedStore{inner: inner, backend: backend}
}

func (i *instrumentedStore) observe(op string, start time.Time, err error) {
	res := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrConditionFailed):
		res = "condition_failed"
	case errors.Is(err, ErrNotFound):
		res = "not_found"
	default:
		res = "error"
	}
	storeOps.WithLabelValues(i.backend, op, res).Inc()
	storeLat.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
}

func (i *instrumentedStore) Get(ctx context.Context, pk, sk string) (it Item, err error) {
	start := time.Now()
	defer func() { i.observe("get", start, err) }()
	return i.inner.Get(ctx, pk, sk)
}

func (i *instrumentedStore) Query(ctx context.Context, pk string, key SortKey, opts QueryOptions) (p Page, err error) {
	start := time.Now()
	defer func() { i.observe("query", start, err) }()
	return i.inner.Query(ctx, pk, key, opts)
}

func (i *instrumentedStore) Put(ctx context.Context, item Item, cond Condition) (it Item, err error) {
	start := time.Now()
	defer func() { i.observe("put", start, err) }()
	return i.inner.Put(ctx, item, cond)
}

func (i *instrumentedStore) Delete(ctx context.Context, pk, sk string) (err error) {
	start := time.Now()
	defer func() { i.observe("delete", start, err) }()
	return i.inner.Delete(ctx, pk, sk)
}

func (i *instrumentedStore) Close() error { return i.inner.Close() }

func (i *instrumentedStore) Check(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { i.observe("check", start, err) }()
	return Check(ctx, i.inner)
}
