// Package pgmq speaks to the pgmq extension installed alongside the
// application schema. The service runs a single queue: webhook events that
// cannot be applied are parked here and later drained into the
// dead_letter_events table.
package pgmq

import (
	"context"
	"database/sql"
	"fmt"
)

// Client issues pgmq calls over the shared DB handle.
type Client struct {
	db *sql.DB
}

// New returns a pgmq client backed by the given DB connection.
func New(db *sql.DB) *Client {
	return &Client{db: db}
}

// Message is one parked event read from a queue.
type Message struct {
	ID        int64
	ReadCount int // deliveries so far, including this one
	Data      []byte
}

// Send parks a JSON payload on the given queue with no delivery delay.
func (c *Client) Send(ctx context.Context, queue string, payload []byte) error {
	query := "SELECT pgmq.send($1, $2::jsonb, 0)"
	if _, err := c.db.ExecContext(ctx, query, queue, string(payload)); err != nil {
		return fmt.Errorf("pgmq send to %s: %w", queue, err)
	}
	return nil
}

// ReadWithPoll reads up to maxMessages from the queue, blocking up to
// timeoutSec seconds. Read messages stay invisible until the visibility
// timeout elapses or Delete is called.
func (c *Client) ReadWithPoll(ctx context.Context, queue string, timeoutSec, maxMessages int) ([]*Message, error) {
	query := "SELECT msg_id, read_ct, message FROM pgmq.read_with_poll($1, $2, $3)"
	rows, err := c.db.QueryContext(ctx, query, queue, timeoutSec, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("pgmq read from %s: %w", queue, err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ReadCount, &m.Data); err != nil {
			return nil, fmt.Errorf("pgmq scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgmq read from %s: %w", queue, err)
	}
	return msgs, nil
}

// Delete acknowledges a single message, removing it from the queue.
func (c *Client) Delete(ctx context.Context, queue string, msgID int64) error {
	query := "SELECT pgmq.delete($1, $2::bigint)"
	if _, err := c.db.ExecContext(ctx, query, queue, msgID); err != nil {
		return fmt.Errorf("pgmq delete %d from %s: %w", msgID, queue, err)
	}
	return nil
}
