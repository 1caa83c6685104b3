package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"app/internal/model"
	"app/internal/pubsub"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

var ErrUserNotFound = errors.New("user not found")

type UserService interface {
	Create(ctx context.Context, u *model.User) (*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
}

type userService struct {
	userRepo         repository.UserRepository
	publisher        pubsub.Publisher
	userCreatedTopic string
	logger           zerolog.Logger
}

// NewUserService creates a UserService. publisher may be nil; user.created
// events are then not emitted.
func NewUserService(userRepo repository.UserRepository, publisher pubsub.Publisher, userCreatedTopic string, logger zerolog.Logger) UserService {
	return &userService{
		userRepo:         userRepo,
		publisher:        publisher,
		userCreatedTopic: userCreatedTopic,
		logger:           logger.With().Str("service", "UserService").Logger(),
	}
}

func (s *userService) Create(ctx context.Context, u *model.User) (*model.User, error) {
	if err := s.userRepo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		// Downstream consumers (welcome email, provisioning) hang off this
		// event; a publish failure must not fail the signup.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			payload, err := json.Marshal(map[string]string{
				"user_id": u.UserID,
				"email":   u.Email,
			})
			if err != nil {
				s.logger.Error().Err(err).Str("user_id", u.UserID).Msg("Failed to marshal user.created event")
				return
			}
			attrs := map[string]string{"event": "user.created"}
			if _, err := s.publisher.Publish(ctx, s.userCreatedTopic, payload, attrs); err != nil {
				s.logger.Error().Err(err).Str("user_id", u.UserID).Msg("Failed to publish user.created event")
			}
		}()
	}
	return u, nil
}

func (s *userService) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := s.userRepo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}
