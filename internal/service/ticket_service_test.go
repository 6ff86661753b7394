package service

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sap-ticketing/internal/classifier"
	"github.com/spec-kit/sap-ticketing/internal/domain"
	"github.com/spec-kit/sap-ticketing/internal/events"
	"github.com/spec-kit/sap-ticketing/internal/repository"
)

type fakeTicketRepo struct {
	tickets      map[int64]*domain.Ticket
	nextID       int64
	failUniqueOn map[string]bool
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: make(map[int64]*domain.Ticket), failUniqueOn: make(map[string]bool)}
}

func (r *fakeTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	if r.failUniqueOn[ticket.TicketID] {
		return &pgconn.PgError{Code: "23505"}
	}
	for _, existing := range r.tickets {
		if existing.TicketID == ticket.TicketID {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	r.nextID++
	ticket.ID = r.nextID
	ticket.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)
	ticket.UpdatedAt = ticket.CreatedAt
	stored := *ticket
	r.tickets[ticket.ID] = &stored
	return nil
}

func (r *fakeTicketRepo) Update(_ context.Context, ticket *domain.Ticket) error {
	if _, ok := r.tickets[ticket.ID]; !ok {
		return pgx.ErrNoRows
	}
	ticket.UpdatedAt = time.Now().UTC()
	stored := *ticket
	r.tickets[ticket.ID] = &stored
	return nil
}

func (r *fakeTicketRepo) GetByID(_ context.Context, id int64) (*domain.Ticket, error) {
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *ticket
	return &copied, nil
}

func (r *fakeTicketRepo) GetByTicketID(_ context.Context, key string) (*domain.Ticket, error) {
	for _, ticket := range r.tickets {
		if ticket.TicketID == key {
			copied := *ticket
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeTicketRepo) ListWithFilter(_ context.Context, _ repository.TicketFilter) ([]domain.Ticket, error) {
	var out []domain.Ticket
	for _, t := range r.tickets {
		out = append(out, *t)
	}
	return out, nil
}

func (r *fakeTicketRepo) CountWithFilter(_ context.Context, _ repository.TicketFilter) (int64, error) {
	return int64(len(r.tickets)), nil
}

func (r *fakeTicketRepo) ListAll(_ context.Context) ([]domain.Ticket, error) {
	return r.ListWithFilter(context.Background(), repository.TicketFilter{})
}

func (r *fakeTicketRepo) CountsBy(_ context.Context, column string) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, t := range r.tickets {
		switch column {
		case "status":
			counts[string(t.Status)]++
		case "priority":
			counts[string(t.Priority)]++
		case "category":
			counts[string(t.Category)]++
		}
	}
	return counts, nil
}

type fakeLogRepo struct {
	entries []domain.TicketLog
}

func (r *fakeLogRepo) Create(_ context.Context, entry *domain.TicketLog) error {
	entry.ID = int64(len(r.entries) + 1)
	entry.CreatedAt = time.Now().UTC()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeLogRepo) ListByTicket(_ context.Context, ticketID int64) ([]domain.TicketLog, error) {
	var out []domain.TicketLog
	for _, e := range r.entries {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeLogRepo) byType(logType domain.TicketLogType) []domain.TicketLog {
	var out []domain.TicketLog
	for _, e := range r.entries {
		if e.LogType == logType {
			out = append(out, e)
		}
	}
	return out
}

type fakeSequence struct {
	current int64
}

func (s *fakeSequence) Next(_ context.Context) (int64, error) {
	s.current++
	return s.current, nil
}

func newTestService() (*TicketService, *fakeTicketRepo, *fakeLogRepo) {
	tickets := newFakeTicketRepo()
	logs := &fakeLogRepo{}
	svc := NewTicketService(tickets, logs, &fakeSequence{}, events.NewInMemoryDispatcher(), zap.NewNop())
	return svc, tickets, logs
}

func TestCreateAssignsSequentialKeysAndAudits(t *testing.T) {
	svc, _, logs := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateParams{Title: "Printer broken", CreatedBy: 1})
	require.NoError(t, err)
	second, err := svc.Create(ctx, CreateParams{Title: "VPN down", CreatedBy: 1})
	require.NoError(t, err)

	assert.Equal(t, "T-001", first.TicketID)
	assert.Equal(t, "T-002", second.TicketID)
	assert.Equal(t, domain.TicketStatusOpen, first.Status)
	assert.Equal(t, domain.TicketPriorityMedium, first.Priority)
	assert.Equal(t, domain.CategoryOther, first.Category)
	assert.Len(t, logs.byType(domain.LogTypeCreated), 2)
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Create(context.Background(), CreateParams{Title: "   ", CreatedBy: 1})
	assert.Error(t, err)
}

func TestCreateRetriesOnceOnKeyCollision(t *testing.T) {
	svc, tickets, _ := newTestService()
	tickets.failUniqueOn["T-001"] = true

	ticket, err := svc.Create(context.Background(), CreateParams{Title: "Collision", CreatedBy: 1})
	require.NoError(t, err)
	assert.Equal(t, "T-002", ticket.TicketID)
}

func TestCreateFromVerdictKeepsProvenance(t *testing.T) {
	svc, _, logs := newTestService()
	category := domain.CategoryMM
	verdict := &classifier.Verdict{
		IsRelevant:        true,
		Confidence:        0.9,
		Category:          &category,
		SuggestedTitle:    "PO approval stuck",
		SuggestedPriority: domain.TicketPriorityHigh,
		Provenance:        classifier.ProvenanceModel,
	}
	msg := &domain.EmailMessage{
		ID:          7,
		MessageID:   "<m1@x>",
		FromAddress: "buyer@example.com",
		Subject:     "PO stuck",
	}

	ticket, err := svc.CreateFromVerdict(context.Background(), msg, verdict, "description", 1)
	require.NoError(t, err)

	assert.True(t, ticket.AutoCreated())
	require.NotNil(t, ticket.SourceEmailID)
	assert.Equal(t, "<m1@x>", *ticket.SourceEmailID)
	require.NotNil(t, ticket.LLMConfidence)
	assert.InDelta(t, 0.9, *ticket.LLMConfidence, 1e-9)
	assert.Equal(t, domain.CategoryMM, ticket.Category)
	assert.Equal(t, domain.TicketPriorityHigh, ticket.Priority)

	assert.Len(t, logs.byType(domain.LogTypeCreated), 1)
	received := logs.byType(domain.LogTypeEmailReceived)
	require.Len(t, received, 1)
	assert.Equal(t, "<m1@x>", received[0].Metadata["message_id"])
}

func TestUpdateWritesOneEntryPerChangedField(t *testing.T) {
	svc, _, logs := newTestService()
	ctx := context.Background()
	ticket, err := svc.Create(ctx, CreateParams{Title: "Audit me", CreatedBy: 1})
	require.NoError(t, err)

	inProgress := domain.TicketStatusInProgress
	high := domain.TicketPriorityHigh
	assignee := int64(42)
	_, err = svc.Update(ctx, ticket.ID, UpdateParams{
		Status:     &inProgress,
		Priority:   &high,
		AssignedTo: &assignee,
		ActorID:    1,
	})
	require.NoError(t, err)

	assert.Len(t, logs.byType(domain.LogTypeStatusChange), 1)
	assert.Len(t, logs.byType(domain.LogTypePriorityChange), 1)
	assert.Len(t, logs.byType(domain.LogTypeAssignment), 1)
}

func TestUpdateSameValueWritesNothing(t *testing.T) {
	svc, _, logs := newTestService()
	ctx := context.Background()
	ticket, err := svc.Create(ctx, CreateParams{Title: "No change", CreatedBy: 1})
	require.NoError(t, err)
	before := len(logs.entries)

	open := domain.TicketStatusOpen
	medium := domain.TicketPriorityMedium
	_, err = svc.Update(ctx, ticket.ID, UpdateParams{Status: &open, Priority: &medium, ActorID: 1})
	require.NoError(t, err)

	assert.Equal(t, before, len(logs.entries))
}

func TestResolveStampsResolutionFields(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	ticket, err := svc.Create(ctx, CreateParams{Title: "Resolve me", CreatedBy: 1})
	require.NoError(t, err)

	resolved := domain.TicketStatusResolved
	updated, err := svc.Update(ctx, ticket.ID, UpdateParams{Status: &resolved, ActorID: 1})
	require.NoError(t, err)

	require.NotNil(t, updated.ResolvedAt)
	require.NotNil(t, updated.ResolutionMinutes)
	assert.GreaterOrEqual(t, *updated.ResolutionMinutes, 0)

	// reopening clears the stamp
	open := domain.TicketStatusOpen
	reopened, err := svc.Update(ctx, updated.ID, UpdateParams{Status: &open, ActorID: 1})
	require.NoError(t, err)
	assert.Nil(t, reopened.ResolvedAt)
	assert.Nil(t, reopened.ResolutionMinutes)
}

func TestUnassignClearsAssignee(t *testing.T) {
	svc, tickets, logs := newTestService()
	ctx := context.Background()
	assignee := int64(9)
	ticket, err := svc.Create(ctx, CreateParams{Title: "Assigned", CreatedBy: 1, AssignedTo: &assignee})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, ticket.ID, UpdateParams{Unassign: true, ActorID: 1})
	require.NoError(t, err)
	assert.Nil(t, updated.AssignedTo)

	stored, err := tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.AssignedTo)
	assert.Len(t, logs.byType(domain.LogTypeAssignment), 1)
}

func TestStatsAggregatesCounts(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	_, err := svc.Create(ctx, CreateParams{Title: "A", CreatedBy: 1, Priority: domain.TicketPriorityHigh})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateParams{Title: "B", CreatedBy: 1, Category: domain.CategoryMM})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(2), stats.ByStatus["Open"])
	assert.Equal(t, int64(1), stats.ByPriority["High"])
	assert.Equal(t, int64(1), stats.ByCategory["MM"])
}
