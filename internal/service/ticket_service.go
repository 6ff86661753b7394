package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/spec-kit/sap-ticketing/internal/classifier"
	"github.com/spec-kit/sap-ticketing/internal/domain"
	"github.com/spec-kit/sap-ticketing/internal/events"
	"github.com/spec-kit/sap-ticketing/internal/repository"
	apperrors "github.com/spec-kit/sap-ticketing/pkg/util"
)

// TicketService owns ticket lifecycle operations and the audit trail.
type TicketService struct {
	tickets  repository.TicketRepository
	logs     repository.TicketLogRepository
	sequence repository.TicketSequence
	events   events.Dispatcher
	logger   *zap.Logger
}

// NewTicketService builds the service.
func NewTicketService(
	tickets repository.TicketRepository,
	logs repository.TicketLogRepository,
	sequence repository.TicketSequence,
	dispatcher events.Dispatcher,
	logger *zap.Logger,
) *TicketService {
	return &TicketService{
		tickets:  tickets,
		logs:     logs,
		sequence: sequence,
		events:   dispatcher,
		logger:   logger,
	}
}

// NextTicketID allocates the next human-readable ticket key (T-001, T-002, ...).
func (s *TicketService) NextTicketID(ctx context.Context) (string, error) {
	n, err := s.sequence.Next(ctx)
	if err != nil {
		return "", fmt.Errorf("allocate ticket number: %w", err)
	}
	return fmt.Sprintf("T-%03d", n), nil
}

// CreateParams describe a manually created ticket.
type CreateParams struct {
	Title       string
	Description string
	Priority    domain.TicketPriority
	Category    domain.TicketCategory
	CreatedBy   int64
	AssignedTo  *int64
}

// Create stores a new ticket and writes the CREATED audit entry.
func (s *TicketService) Create(ctx context.Context, params CreateParams) (*domain.Ticket, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("title is required", nil)
	}
	if params.Priority == "" {
		params.Priority = domain.TicketPriorityMedium
	}
	if params.Category == "" {
		params.Category = domain.CategoryOther
	}
	if !domain.ValidCategory(string(params.Category)) {
		return nil, apperrors.NewValidationError("unknown category", map[string]any{"category": params.Category})
	}

	ticket := &domain.Ticket{
		Title:       title,
		Description: params.Description,
		Status:      domain.TicketStatusOpen,
		Priority:    params.Priority,
		Category:    params.Category,
		CreatedBy:   params.CreatedBy,
		AssignedTo:  params.AssignedTo,
	}
	if err := s.insertWithRetry(ctx, ticket); err != nil {
		return nil, err
	}

	s.appendLog(ctx, &domain.TicketLog{
		TicketID: ticket.ID,
		UserID:   params.CreatedBy,
		LogType:  domain.LogTypeCreated,
		Action:   "Ticket created",
		NewValue: strPtr(string(ticket.Status)),
	})
	s.publishCreated(ctx, ticket, params.CreatedBy)
	return ticket, nil
}

// CreateFromVerdict stores a ticket produced by the email pipeline. The
// source message provenance and the raw classifier verdict are preserved on
// the ticket, and an EMAIL_RECEIVED audit entry is written alongside CREATED.
func (s *TicketService) CreateFromVerdict(
	ctx context.Context,
	msg *domain.EmailMessage,
	verdict *classifier.Verdict,
	description string,
	actorID int64,
) (*domain.Ticket, error) {
	if verdict == nil {
		return nil, apperrors.NewValidationError("verdict is required", nil)
	}

	title := strings.TrimSpace(verdict.SuggestedTitle)
	if title == "" {
		title = msg.Subject
	}

	category := domain.CategoryOther
	if verdict.Category != nil {
		category = *verdict.Category
	}
	priority := verdict.SuggestedPriority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}

	confidence := verdict.Confidence
	ticket := &domain.Ticket{
		Title:           title,
		Description:     description,
		Status:          domain.TicketStatusOpen,
		Priority:        priority,
		Category:        category,
		CreatedBy:       actorID,
		SourceEmailID:   &msg.MessageID,
		SourceEmailFrom: &msg.FromAddress,
		SourceEmailSubj: &msg.Subject,
		LLMConfidence:   &confidence,
		LLMRawResponse:  verdict.Raw,
	}
	if err := s.insertWithRetry(ctx, ticket); err != nil {
		return nil, err
	}

	s.appendLog(ctx, &domain.TicketLog{
		TicketID: ticket.ID,
		UserID:   actorID,
		LogType:  domain.LogTypeCreated,
		Action:   "Ticket auto-created from email",
		NewValue: strPtr(string(ticket.Status)),
	})
	s.appendLog(ctx, &domain.TicketLog{
		TicketID: ticket.ID,
		UserID:   actorID,
		LogType:  domain.LogTypeEmailReceived,
		Action:   "Source email recorded",
		Metadata: map[string]any{
			"message_id": msg.MessageID,
			"from":       msg.FromAddress,
			"subject":    msg.Subject,
			"confidence": verdict.Confidence,
			"provenance": string(verdict.Provenance),
		},
	})
	s.publishCreated(ctx, ticket, actorID)
	return ticket, nil
}

// insertWithRetry allocates a ticket key and inserts. A duplicate key, which
// can happen when the sequence backend was reset behind existing rows,
// triggers exactly one retry with a fresh key.
func (s *TicketService) insertWithRetry(ctx context.Context, ticket *domain.Ticket) error {
	for attempt := 0; attempt < 2; attempt++ {
		key, err := s.NextTicketID(ctx)
		if err != nil {
			return err
		}
		ticket.TicketID = key

		err = s.tickets.Create(ctx, ticket)
		if err == nil {
			return nil
		}
		if isUniqueViolation(err) && attempt == 0 {
			s.logger.Warn("ticket key collision, retrying with fresh key", zap.String("ticket_id", key))
			continue
		}
		return fmt.Errorf("insert ticket: %w", err)
	}
	return apperrors.NewConflict("could not allocate unique ticket id", nil)
}

// UpdateParams carry optional field changes. Nil fields are left untouched.
type UpdateParams struct {
	Title       *string
	Description *string
	Status      *domain.TicketStatus
	Priority    *domain.TicketPriority
	Category    *domain.TicketCategory
	AssignedTo  *int64
	Unassign    bool
	ActorID     int64
}

// Update applies changes to a ticket, writing one audit entry per changed
// field. Setting the same value twice writes nothing. Transitioning into
// Resolved stamps resolved_at and resolution_minutes; leaving Resolved
// clears them.
func (s *TicketService) Update(ctx context.Context, id int64, params UpdateParams) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	var pending []domain.TicketLog
	type pendingEvent struct {
		eventType events.EventType
		payload   any
	}
	var notifications []pendingEvent
	changed := false

	if params.Title != nil && strings.TrimSpace(*params.Title) != "" && *params.Title != ticket.Title {
		ticket.Title = strings.TrimSpace(*params.Title)
		changed = true
	}
	if params.Description != nil && *params.Description != ticket.Description {
		ticket.Description = *params.Description
		changed = true
	}
	if params.Category != nil && *params.Category != ticket.Category {
		if !domain.ValidCategory(string(*params.Category)) {
			return nil, apperrors.NewValidationError("unknown category", map[string]any{"category": *params.Category})
		}
		ticket.Category = *params.Category
		changed = true
	}

	if params.Status != nil && *params.Status != ticket.Status {
		old := ticket.Status
		ticket.Status = *params.Status
		s.applyResolutionStamp(ticket, old)
		pending = append(pending, domain.TicketLog{
			TicketID: ticket.ID,
			UserID:   params.ActorID,
			LogType:  domain.LogTypeStatusChange,
			Action:   fmt.Sprintf("Status changed from %s to %s", old, ticket.Status),
			OldValue: strPtr(string(old)),
			NewValue: strPtr(string(ticket.Status)),
		})
		notifications = append(notifications, pendingEvent{
			eventType: events.EventTicketStatusChanged,
			payload:   events.TicketStatusChangedPayload{OldStatus: old, NewStatus: ticket.Status},
		})
		changed = true
	}

	if params.Priority != nil && *params.Priority != ticket.Priority {
		old := ticket.Priority
		ticket.Priority = *params.Priority
		pending = append(pending, domain.TicketLog{
			TicketID: ticket.ID,
			UserID:   params.ActorID,
			LogType:  domain.LogTypePriorityChange,
			Action:   fmt.Sprintf("Priority changed from %s to %s", old, ticket.Priority),
			OldValue: strPtr(string(old)),
			NewValue: strPtr(string(ticket.Priority)),
		})
		notifications = append(notifications, pendingEvent{
			eventType: events.EventTicketPriorityChanged,
			payload:   events.TicketPriorityChangedPayload{OldPriority: old, NewPriority: ticket.Priority},
		})
		changed = true
	}

	if params.Unassign || params.AssignedTo != nil {
		var next *int64
		if !params.Unassign {
			next = params.AssignedTo
		}
		if !equalInt64Ptr(ticket.AssignedTo, next) {
			old := ticket.AssignedTo
			ticket.AssignedTo = next
			pending = append(pending, domain.TicketLog{
				TicketID: ticket.ID,
				UserID:   params.ActorID,
				LogType:  domain.LogTypeAssignment,
				Action:   "Assignment changed",
				OldValue: int64PtrToStr(old),
				NewValue: int64PtrToStr(next),
			})
			notifications = append(notifications, pendingEvent{
				eventType: events.EventTicketAssigned,
				payload:   events.TicketAssignedPayload{AssignedTo: next},
			})
			changed = true
		}
	}

	if !changed {
		return ticket, nil
	}

	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}
	for i := range pending {
		s.appendLog(ctx, &pending[i])
	}
	for _, n := range notifications {
		s.publish(ctx, n.eventType, ticket.ID, params.ActorID, n.payload)
	}
	return ticket, nil
}

func (s *TicketService) applyResolutionStamp(ticket *domain.Ticket, old domain.TicketStatus) {
	if ticket.Status == domain.TicketStatusResolved && old != domain.TicketStatusResolved {
		now := time.Now().UTC()
		minutes := int(now.Sub(ticket.CreatedAt).Minutes())
		if minutes < 0 {
			minutes = 0
		}
		ticket.ResolvedAt = &now
		ticket.ResolutionMinutes = &minutes
		return
	}
	if old == domain.TicketStatusResolved && ticket.Status != domain.TicketStatusResolved &&
		ticket.Status != domain.TicketStatusClosed {
		ticket.ResolvedAt = nil
		ticket.ResolutionMinutes = nil
	}
}

// Get returns a ticket by numeric id.
func (s *TicketService) Get(ctx context.Context, id int64) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

// GetByKey returns a ticket by its human-readable key (e.g. T-042).
func (s *TicketService) GetByKey(ctx context.Context, key string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByTicketID(ctx, key)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

// List returns tickets matching the filter plus the unpaginated total.
func (s *TicketService) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, int64, error) {
	tickets, err := s.tickets.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.MapError(err)
	}
	total, err := s.tickets.CountWithFilter(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.MapError(err)
	}
	return tickets, total, nil
}

// History returns the audit trail of a ticket in chronological order.
func (s *TicketService) History(ctx context.Context, ticketID int64) ([]domain.TicketLog, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, apperrors.MapError(err)
	}
	entries, err := s.logs.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

// TicketStats aggregates ticket counts.
type TicketStats struct {
	Total      int64            `json:"total"`
	ByStatus   map[string]int64 `json:"by_status"`
	ByPriority map[string]int64 `json:"by_priority"`
	ByCategory map[string]int64 `json:"by_category"`
}

// Stats returns count aggregates grouped by status, priority and category.
func (s *TicketService) Stats(ctx context.Context) (*TicketStats, error) {
	byStatus, err := s.tickets.CountsBy(ctx, "status")
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	byPriority, err := s.tickets.CountsBy(ctx, "priority")
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	byCategory, err := s.tickets.CountsBy(ctx, "category")
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	stats := &TicketStats{
		ByStatus:   byStatus,
		ByPriority: byPriority,
		ByCategory: byCategory,
	}
	for _, count := range byStatus {
		stats.Total += count
	}
	return stats, nil
}

func (s *TicketService) appendLog(ctx context.Context, entry *domain.TicketLog) {
	if err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Error("write audit entry failed",
			zap.Int64("ticket_id", entry.TicketID),
			zap.String("log_type", string(entry.LogType)),
			zap.Error(err),
		)
	}
}

func (s *TicketService) publishCreated(ctx context.Context, ticket *domain.Ticket, actorID int64) {
	s.publish(ctx, events.EventTicketCreated, ticket.ID, actorID, events.TicketCreatedPayload{
		TicketKey:   ticket.TicketID,
		Title:       ticket.Title,
		Priority:    ticket.Priority,
		Category:    ticket.Category,
		AutoCreated: ticket.AutoCreated(),
	})
}

func (s *TicketService) publish(ctx context.Context, eventType events.EventType, ticketID, actorID int64, payload any) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		ActorID:   actorID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func strPtr(s string) *string { return &s }

func int64PtrToStr(v *int64) *string {
	if v == nil {
		return nil
	}
	s := fmt.Sprintf("%d", *v)
	return &s
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
