package app

import (
	"context"
	"fmt"

	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
	"github.com/openctemio/membership/pkg/logger"
)

// EventService persists membership events. It implements EventLogger.
type EventService struct {
	repo   organization.EventRepository
	logger *logger.Logger
}

// NewEventService creates a new EventService.
func NewEventService(repo organization.EventRepository, log *logger.Logger) *EventService {
	return &EventService{
		repo:   repo,
		logger: log.With("service", "event"),
	}
}

// LogMembershipEvents validates and stores the events in one write. An empty
// batch is accepted and writes nothing.
func (s *EventService) LogMembershipEvents(ctx context.Context, events []organization.MembershipEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}

	if err := s.repo.CreateMany(ctx, events); err != nil {
		s.logger.Error("failed to persist membership events",
			"error", err,
			"count", len(events),
			"type", events[0].Type.String(),
		)
		return err
	}

	for _, e := range events {
		s.logger.Debug("membership event",
			"type", e.Type.String(),
			"organization_id", e.OrganizationID.String(),
			"membership_id", e.MembershipID.String(),
		)
	}
	return nil
}

// ListMembershipEvents returns the recorded history of a membership.
func (s *EventService) ListMembershipEvents(ctx context.Context, membershipID shared.ID) ([]organization.MembershipEvent, error) {
	events, err := s.repo.ListByMembership(ctx, membershipID)
	if err != nil {
		return nil, fmt.Errorf("failed to list membership events: %w", err)
	}
	return events, nil
}
