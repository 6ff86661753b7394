package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sap-ticketing/internal/api/dto"
	"github.com/spec-kit/sap-ticketing/internal/auth"
	"github.com/spec-kit/sap-ticketing/internal/domain"
	"github.com/spec-kit/sap-ticketing/internal/repository"
	"github.com/spec-kit/sap-ticketing/internal/service"
	apperrors "github.com/spec-kit/sap-ticketing/pkg/util"
)

// TicketsHandler manages ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.Create(c.Context(), service.CreateParams{
		Title:       req.Title,
		Description: req.Description,
		Priority:    domain.TicketPriority(req.Priority),
		Category:    domain.TicketCategory(req.Category),
		CreatedBy:   principal.User.ID,
		AssignedTo:  req.AssignedTo,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	filter := parseTicketQuery(c)
	tickets, total, err := h.service.List(c.Context(), filter)
	if err != nil {
		return err
	}

	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": dto.TicketListResponse{
		Items:  items,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}})
}

// GetTicket GET /tickets/:id. Accepts either the numeric id or the
// human-readable key (T-042).
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.resolveTicket(c)
	if err != nil {
		return err
	}
	history, err := h.service.History(c.Context(), ticket.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket, history)})
}

// UpdateTicket PATCH /tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("user required")
	}
	ticket, err := h.resolveTicket(c)
	if err != nil {
		return err
	}

	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	params := service.UpdateParams{
		Title:       req.Title,
		Description: req.Description,
		AssignedTo:  req.AssignedTo,
		Unassign:    req.Unassign,
		ActorID:     principal.User.ID,
	}
	if req.Status != nil {
		status, err := parseStatus(*req.Status)
		if err != nil {
			return err
		}
		params.Status = &status
	}
	if req.Priority != nil {
		priority, err := parsePriority(*req.Priority)
		if err != nil {
			return err
		}
		params.Priority = &priority
	}
	if req.Category != nil {
		category := domain.TicketCategory(*req.Category)
		params.Category = &category
	}

	updated, err := h.service.Update(c.Context(), ticket.ID, params)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(updated)})
}

// TicketStats GET /tickets/stats.
func (h *TicketsHandler) TicketStats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": stats})
}

func (h *TicketsHandler) resolveTicket(c *fiber.Ctx) (*domain.Ticket, error) {
	raw := c.Params("id")
	if strings.HasPrefix(raw, "T-") {
		return h.service.GetByKey(c.Context(), raw)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid ticket id", map[string]any{"id": raw})
	}
	return h.service.Get(c.Context(), id)
}

func parseStatus(raw string) (domain.TicketStatus, error) {
	switch status := domain.TicketStatus(raw); status {
	case domain.TicketStatusOpen, domain.TicketStatusInProgress,
		domain.TicketStatusResolved, domain.TicketStatusClosed:
		return status, nil
	}
	return "", apperrors.NewValidationError("unknown status", map[string]any{"status": raw})
}

func parsePriority(raw string) (domain.TicketPriority, error) {
	switch priority := domain.TicketPriority(raw); priority {
	case domain.TicketPriorityLow, domain.TicketPriorityMedium,
		domain.TicketPriorityHigh, domain.TicketPriorityCritical:
		return priority, nil
	}
	return "", apperrors.NewValidationError("unknown priority", map[string]any{"priority": raw})
}

func parseTicketQuery(c *fiber.Ctx) repository.TicketFilter {
	filter := repository.TicketFilter{
		Limit:  c.QueryInt("limit", 20),
		Offset: c.QueryInt("offset", 0),
	}
	if raw := c.Query("status"); raw != "" {
		if status, err := parseStatus(raw); err == nil {
			filter.Status = &status
		}
	}
	if raw := c.Query("priority"); raw != "" {
		if priority, err := parsePriority(raw); err == nil {
			filter.Priority = &priority
		}
	}
	if raw := c.Query("category"); raw != "" && domain.ValidCategory(raw) {
		category := domain.TicketCategory(raw)
		filter.Category = &category
	}
	if raw := c.Query("assigned_to"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.AssignedTo = &id
		}
	}
	if raw := c.Query("search"); raw != "" {
		filter.SearchTerm = &raw
	}
	if raw := c.Query("created_from"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.CreatedFrom = &ts
		}
	}
	if raw := c.Query("created_to"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.CreatedTo = &ts
		}
	}
	return filter
}

func ticketSummary(t *domain.Ticket) dto.TicketSummary {
	return dto.TicketSummary{
		ID:            t.ID,
		TicketID:      t.TicketID,
		Title:         t.Title,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		Category:      string(t.Category),
		AssignedTo:    t.AssignedTo,
		AutoCreated:   t.AutoCreated(),
		LLMConfidence: t.LLMConfidence,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func ticketDetail(t *domain.Ticket, history []domain.TicketLog) dto.TicketDetail {
	entries := make([]dto.TicketLogEntry, 0, len(history))
	for _, e := range history {
		entries = append(entries, dto.TicketLogEntry{
			ID:        e.ID,
			LogType:   string(e.LogType),
			Action:    e.Action,
			OldValue:  e.OldValue,
			NewValue:  e.NewValue,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	return dto.TicketDetail{
		TicketSummary:     ticketSummary(t),
		Description:       t.Description,
		SourceEmailFrom:   t.SourceEmailFrom,
		SourceEmailSubj:   t.SourceEmailSubj,
		ResolvedAt:        t.ResolvedAt,
		ResolutionMinutes: t.ResolutionMinutes,
		History:           entries,
	}
}
