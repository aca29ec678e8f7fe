// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics holds the Prometheus collectors for the replay engine.
// Collectors are registered on the default registry via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_bus_published_total",
		Help: "Total number of events published by detail type",
	}, []string{"detail_type"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_bus_dropped_total",
		Help: "Total number of bus event drops by detail type and reason",
	}, []string{"detail_type", "reason"})
)

// IncBusPublished records a delivered event.
func IncBusPublished(detailType string) {
	BusPublishedTotal.WithLabelValues(orUnknown(detailType)).Inc()
}

// IncBusDropReason records a dropped event with a concrete reason.
func IncBusDropReason(detailType, reason string) {
	BusDroppedTotal.WithLabelValues(orUnknown(detailType), orUnknown(reason)).Inc()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
