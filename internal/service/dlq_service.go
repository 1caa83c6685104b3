package service

import (
	"context"
	"encoding/json"

	"app/internal/model"
	"app/internal/pgmq"
	"app/internal/repository"

	"github.com/google/uuid"
)

type DLQService interface {
	ProcessAndSave(ctx context.Context, msg *pgmq.Message) error
}

type dlqService struct {
	repo repository.DLQRepository
}

func NewDLQService(repo repository.DLQRepository) DLQService {
	return &dlqService{repo: repo}
}

// deadLetterPayload mirrors what the webhook ingestor parks on the queue.
type deadLetterPayload struct {
	Type   string          `json:"type"`
	Reason string          `json:"reason"`
	Data   json.RawMessage `json:"data"`
}

// ProcessAndSave moves a parked webhook event from the queue into the
// dead_letter_events table. A payload that does not match the expected shape
// is stored raw rather than lost.
func (s *dlqService) ProcessAndSave(ctx context.Context, msg *pgmq.Message) error {
	event := &model.DeadLetterEvent{
		ID:        uuid.NewString(),
		EventType: "unknown",
		Payload:   string(msg.Data),
		Reason:    "unparseable dead-letter payload",
		Status:    "unprocessed",
	}

	var parsed deadLetterPayload
	if err := json.Unmarshal(msg.Data, &parsed); err == nil && parsed.Type != "" {
		event.EventType = parsed.Type
		event.Reason = parsed.Reason
		event.Payload = string(parsed.Data)
	}

	return s.repo.Create(ctx, event)
}
