package messaging

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"stockcore/store"
)

const (
	// Messages that failed this many times stay in the table for inspection
	// but are no longer picked up.
	maxOutboxRetries = 10
	drainBatch       = 50
	sentRetention    = 7 * 24 * time.Hour
)

// Publisher is the part of Client the drainer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// OutboxDrainer periodically sends pending outbox messages.
type OutboxDrainer struct {
	db        *store.DB
	pub       Publisher
	interval  time.Duration
	log       zerolog.Logger
	lastPurge time.Time
}

func NewOutboxDrainer(db *store.DB, pub Publisher, interval time.Duration, log zerolog.Logger) *OutboxDrainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxDrainer{
		db:       db,
		pub:      pub,
		interval: interval,
		log:      log.With().Str("component", "outbox").Logger(),
	}
}

// Run drains on every tick until ctx is cancelled.
func (d *OutboxDrainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
			d.purge(ctx)
		}
	}
}

// Drain sends one batch of pending messages and reports how many were acked.
func (d *OutboxDrainer) Drain(ctx context.Context) int {
	msgs, err := d.db.ListPendingOutbox(ctx, maxOutboxRetries, drainBatch)
	if err != nil {
		d.log.Error().Err(err).Msg("list pending")
		return 0
	}
	sent := 0
	for _, msg := range msgs {
		if err := d.pub.Publish(ctx, msg.Topic, msg.Payload); err != nil {
			d.log.Warn().Err(err).Str("topic", msg.Topic).Int64("id", msg.ID).Int("retries", msg.Retries).Msg("publish failed")
			if err := d.db.IncrementOutboxRetries(ctx, msg.ID); err != nil {
				d.log.Error().Err(err).Int64("id", msg.ID).Msg("increment retries")
			}
			continue
		}
		if err := d.db.AckOutbox(ctx, msg.ID); err != nil {
			d.log.Error().Err(err).Int64("id", msg.ID).Msg("ack")
			continue
		}
		sent++
	}
	return sent
}

func (d *OutboxDrainer) purge(ctx context.Context) {
	if time.Since(d.lastPurge) < time.Hour {
		return
	}
	d.lastPurge = time.Now()
	n, err := d.db.PurgeOutbox(ctx, time.Now().Add(-sentRetention))
	if err != nil {
		d.log.Error().Err(err).Msg("purge")
		return
	}
	if n > 0 {
		d.log.Info().Int64("rows", n).Msg("purged sent messages")
	}
}
