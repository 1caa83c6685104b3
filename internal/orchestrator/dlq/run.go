package dlq

import (
	"context"
	"database/sql"
	"time"

	"app/internal/config"
	"app/internal/pgmq"
	"app/internal/repository"
	"app/internal/service"

	"github.com/rs/zerolog"
)

// Run starts the DLQ orchestrator. It drains parked webhook events from the
// pgmq queue into the dead_letter_events table for offline inspection.
func Run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, db *sql.DB) error {
	client := pgmq.New(db)
	dlqSvc := service.NewDLQService(repository.NewDLQRepository(db))

	queue := cfg.WebhookDLQQueueName
	logger.Info().Str("queue", queue).Msg("Starting DLQ orchestrator")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down DLQ orchestrator")
			return nil
		default:
		}

		msgs, err := client.ReadWithPoll(ctx, queue, cfg.DLQPollTimeoutSec, cfg.DLQPollMaxMsg)
		if err != nil {
			logger.Error().Err(err).Msg("Error reading dead-letter queue")
			time.Sleep(time.Second)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		for _, msg := range msgs {
			if err := dlqSvc.ProcessAndSave(ctx, msg); err != nil {
				// Leave the message on the queue; visibility timeout will
				// surface it again.
				logger.Error().Err(err).Int64("msg_id", msg.ID).Int("read_ct", msg.ReadCount).Msg("Failed to persist dead-letter event")
				continue
			}
			if err := client.Delete(ctx, queue, msg.ID); err != nil {
				logger.Error().Err(err).Int64("msg_id", msg.ID).Msg("Error deleting dead-letter message")
			}
		}
	}
}
