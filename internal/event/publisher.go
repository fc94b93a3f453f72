package event

import (
	"context"
	"log/slog"

	"github.com/ammarakk/To-do-App-sub002/internal/domain"
	"github.com/ammarakk/To-do-App-sub002/pkg/kafka"
	"github.com/ammarakk/To-do-App-sub002/pkg/logger"
)

// Kafka topics published by the auth service.
const (
	TopicUserRegistered  = "auth.user.registered"
	TopicUserLoggedIn    = "auth.user.logged_in"
	TopicSessionsRevoked = "auth.session.revoked"
)

const source = "auth-service"

// Publisher emits auth lifecycle events to Kafka. Publishing is best
// effort: a broker outage must never fail a signup or login, so errors are
// logged and swallowed here.
type Publisher struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

// NewPublisher creates a publisher on top of the given producer.
func NewPublisher(producer *kafka.Producer, log *slog.Logger) *Publisher {
	return &Publisher{producer: producer, logger: log}
}

type userPayload struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type revocationPayload struct {
	UserID string `json:"user_id"`
	Count  int64  `json:"count"`
	Reason string `json:"reason"`
}

// UserRegistered announces a new account.
func (p *Publisher) UserRegistered(ctx context.Context, user *domain.User) {
	p.publish(ctx, TopicUserRegistered, "user.registered", user.ID, userPayload{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
}

// UserLoggedIn announces a successful login.
func (p *Publisher) UserLoggedIn(ctx context.Context, user *domain.User) {
	p.publish(ctx, TopicUserLoggedIn, "user.logged_in", user.ID, userPayload{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
}

// SessionsRevoked announces that count sessions of a user were revoked.
func (p *Publisher) SessionsRevoked(ctx context.Context, userID string, count int64, reason string) {
	p.publish(ctx, TopicSessionsRevoked, "session.revoked", userID, revocationPayload{
		UserID: userID,
		Count:  count,
		Reason: reason,
	})
}

func (p *Publisher) publish(ctx context.Context, topic, eventType, aggregateID string, payload any) {
	evt, err := kafka.NewEvent(eventType, aggregateID, "user", source, payload)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	if cid := logger.CorrelationIDFromContext(ctx); cid != "" {
		evt.WithCorrelationID(cid)
	}

	if err := p.producer.Publish(ctx, topic, evt); err != nil {
		p.logger.WarnContext(ctx, "event publish failed, continuing",
			slog.String("topic", topic),
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}
