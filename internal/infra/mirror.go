// Package infra holds infrastructure adapters. The Redis event mirror
// republishes kernel envelopes to a pub/sub channel for external
// observers; it is optional and disabled by default, and mirror failures
// never reach the emit path.
package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/hivemind/orchestrator/internal/event"
)

// EventMirror publishes JSON envelopes to a Redis channel.
type EventMirror struct {
	rdb     *redis.Client
	channel string
	logger  *log.Entry
}

// NewEventMirror connects to Redis and verifies the connection. The
// caller decides whether a connect failure disables mirroring.
func NewEventMirror(addr, channel string) (*EventMirror, error) {
	var rdb = redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	var ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	var m = &EventMirror{
		rdb:     rdb,
		channel: channel,
		logger:  log.WithField("component", "mirror"),
	}
	m.logger.WithField("addr", addr).Info("redis event mirror connected")
	return m, nil
}

// Handle is a kernel subscriber: it mirrors every envelope to the
// channel. Publish errors are logged and swallowed.
func (m *EventMirror) Handle(ev *event.Envelope) {
	var data, err = json.Marshal(ev)
	if err != nil {
		m.logger.WithError(err).Warn("failed to encode envelope for mirror")
		return
	}
	var ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.rdb.Publish(ctx, m.channel, data).Err(); err != nil {
		m.logger.WithError(err).Debug("mirror publish failed")
	}
}

// Close shuts down the underlying client.
func (m *EventMirror) Close() error {
	return m.rdb.Close()
}
