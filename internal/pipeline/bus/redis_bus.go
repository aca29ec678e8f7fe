// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ManuGH/mre/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBus fans events out over Redis pub/sub so several daemons can share
// lifecycle notifications. Delivery is at-most-once.
type RedisBus struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisBus uses an existing client; channel names are "<prefix>:bus:<topic>".
func NewRedisBus(client *redis.Client, prefix string, logger zerolog.Logger) *RedisBus {
	if prefix == "" {
		prefix = "mre"
	}
	return &RedisBus{client: client, prefix: prefix, logger: logger}
}

// Ping checks the connection to the server.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) channel(topic string) string {
	return b.prefix + ":bus:" + topic
}

func (b *RedisBus) Publish(ctx context.Context, topic string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("publish topic %q: %w", topic, err)
	}
	if err := b.client.Publish(ctx, b.channel(topic), data).Err(); err != nil {
		metrics.IncBusDropReason(topic, "redis_error")
		return fmt.Errorf("publish topic %q: %w", topic, err)
	}
	metrics.IncBusPublished(topic)
	return nil
}

// Subscribe blocks until the server confirms the subscription.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	ps := b.client.Subscribe(ctx, b.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe topic %q: %w", topic, err)
	}

	sub := &redisSub{
		ps:    ps,
		ch:    make(chan Event, defaultSubBuffer),
		done:  make(chan struct{}),
		exit:  make(chan struct{}),
		topic: topic,
	}
	go sub.pump(b.logger)
	return sub, nil
}

type redisSub struct {
	ps    *redis.PubSub
	ch    chan Event
	done  chan struct{}
	exit  chan struct{}
	topic string
	once  sync.Once
}

func (s *redisSub) pump(logger zerolog.Logger) {
	defer close(s.exit)
	defer close(s.ch)
	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				metrics.IncBusDropReason(s.topic, "decode")
				logger.Warn().Err(err).Str("topic", s.topic).Msg("dropping undecodable bus message")
				continue
			}
			select {
			case s.ch <- ev:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSub) C() <-chan Event { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
		<-s.exit
	})
	return err
}

var _ Bus = (*RedisBus)(nil)
