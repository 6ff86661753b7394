package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sap-ticketing/internal/api/dto"
	"github.com/spec-kit/sap-ticketing/internal/domain"
	"github.com/spec-kit/sap-ticketing/internal/pipeline"
	"github.com/spec-kit/sap-ticketing/internal/repository"
	apperrors "github.com/spec-kit/sap-ticketing/pkg/util"
)

// EmailReprocessor re-runs classification for one stored email.
type EmailReprocessor interface {
	Reprocess(ctx context.Context, messageID int64) (*domain.EmailMessage, error)
}

// EmailsHandler exposes the ingested email log.
type EmailsHandler struct {
	messages    repository.MessageRepository
	reprocessor EmailReprocessor
}

// NewEmailsHandler constructs handler.
func NewEmailsHandler(messages repository.MessageRepository, reprocessor EmailReprocessor) *EmailsHandler {
	return &EmailsHandler{messages: messages, reprocessor: reprocessor}
}

// ListEmails GET /emails.
func (h *EmailsHandler) ListEmails(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	var (
		messages []domain.EmailMessage
		err      error
	)
	if c.Query("unprocessed") == "true" {
		messages, err = h.messages.ListUnprocessed(c.Context(), limit)
	} else {
		messages, err = h.messages.ListRecent(c.Context(), limit)
	}
	if err != nil {
		return apperrors.MapError(err)
	}

	items := make([]dto.EmailSummary, 0, len(messages))
	for i := range messages {
		items = append(items, emailSummary(&messages[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// EmailStats GET /emails/stats.
func (h *EmailsHandler) EmailStats(c *fiber.Ctx) error {
	stats, err := h.messages.Stats(c.Context())
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": dto.EmailStatsResponse{
		Total:       stats.Total,
		Processed:   stats.Processed,
		Unprocessed: stats.Unprocessed,
		Relevant:    stats.Relevant,
	}})
}

// ReprocessEmail POST /emails/:id/reprocess.
func (h *EmailsHandler) ReprocessEmail(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperrors.NewValidationError("invalid email id", map[string]any{"id": c.Params("id")})
	}

	msg, err := h.reprocessor.Reprocess(c.Context(), id)
	if err != nil {
		if errors.Is(err, pipeline.ErrAlreadyTicketed) {
			return apperrors.NewConflict("email already has a ticket", map[string]any{"id": id})
		}
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": emailSummary(msg)})
}

func emailSummary(m *domain.EmailMessage) dto.EmailSummary {
	summary := dto.EmailSummary{
		ID:              m.ID,
		MessageID:       m.MessageID,
		FromAddress:     m.FromAddress,
		Subject:         m.Subject,
		ReceivedAt:      m.ReceivedAt,
		Processed:       m.Processed,
		IsRelevant:      m.IsRelevant,
		TicketCreatedID: m.TicketCreatedID,
		ErrorMessage:    m.ErrorMessage,
	}
	if m.DetectedCategory != nil {
		category := string(*m.DetectedCategory)
		summary.DetectedCategory = &category
	}
	return summary
}
