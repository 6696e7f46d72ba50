package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only; there are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCall(ctx context.Context, callID string) ([]Event, error)
}

// Service records call history and operator actions.
//
// Call events are internal history. Operator events are never shown to tenant users.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.BusinessID == "" && e.CarrierCallID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// AppendCallEvent stores one raw call event. Duplicates are kept: this is history, not state.
func (s *Service) AppendCallEvent(ctx context.Context, businessID, callID, carrierCallID, eventType string, payload map[string]string) error {
	return s.Append(ctx, Event{
		BusinessID:    businessID,
		Type:          eventType,
		CallID:        callID,
		CarrierCallID: carrierCallID,
		Payload:       payload,
	})
}

// LogAdminAction records an operator action (including hidden roles).
func (s *Service) LogAdminAction(ctx context.Context, businessID, actorUserID, actorRole, ip, eventType, message string, payload map[string]string) error {
	if eventType == "" {
		eventType = TypeAdminAction
	}
	return s.Append(ctx, Event{
		BusinessID:  businessID,
		Type:        eventType,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     message,
		Payload:     payload,
	})
}

func (s *Service) CallHistory(ctx context.Context, callID string) ([]Event, error) {
	if callID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListByCall(ctx, callID)
}
