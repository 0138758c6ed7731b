package store

import (
	"context"
	"time"
)

type OutboxMessage struct {
	ID        int64
	Topic     string
	Payload   []byte
	MsgType   string
	StationID string
	Retries   int
	CreatedAt time.Time
	SentAt    *time.Time
}

func (q *Queries) EnqueueOutbox(ctx context.Context, topic string, payload []byte, msgType, stationID string) error {
	_, err := q.exec(ctx, `INSERT INTO outbox (topic, payload, msg_type, station_id) VALUES (?, ?, ?, ?)`,
		topic, payload, msgType, stationID)
	return err
}

// ListPendingOutbox returns unsent messages that have not exhausted
// maxRetries, oldest first.
func (q *Queries) ListPendingOutbox(ctx context.Context, maxRetries, limit int) ([]*OutboxMessage, error) {
	rows, err := q.query(ctx, `SELECT id, topic, payload, msg_type, station_id, retries, created_at FROM outbox WHERE sent_at IS NULL AND retries < ? ORDER BY id LIMIT ?`, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []*OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var createdAt any
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.MsgType, &m.StationID, &m.Retries, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (q *Queries) AckOutbox(ctx context.Context, id int64) error {
	_, err := q.exec(ctx, `UPDATE outbox SET sent_at=datetime('now','localtime') WHERE id=?`, id)
	return err
}

func (q *Queries) IncrementOutboxRetries(ctx context.Context, id int64) error {
	_, err := q.exec(ctx, `UPDATE outbox SET retries=retries+1 WHERE id=?`, id)
	return err
}

// PurgeOutbox deletes sent messages older than the cutoff.
func (q *Queries) PurgeOutbox(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := q.exec(ctx, `DELETE FROM outbox WHERE sent_at IS NOT NULL AND sent_at < ?`, q.dialect.TimeArg(olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
