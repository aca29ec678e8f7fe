// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus carries lifecycle and workflow notifications between the
// scheduler, the chunk workflows and external consumers. Topics are event
// detail types.
package bus

import "context"

// Bus publishes events to every current subscriber of a topic.
type Bus interface {
	Publish(ctx context.Context, topic string, ev Event) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}

// Subscriber receives events for one topic until Close.
type Subscriber interface {
	C() <-chan Event
	Close() error
}
