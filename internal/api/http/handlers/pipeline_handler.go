package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/sap-ticketing/internal/api/dto"
	"github.com/spec-kit/sap-ticketing/internal/pipeline"
	apperrors "github.com/spec-kit/sap-ticketing/pkg/util"
)

// PipelineHandler triggers manual pipeline runs and export rebuilds.
type PipelineHandler struct {
	processor *pipeline.Processor
	exporter  pipeline.Exporter
}

// NewPipelineHandler constructs handler.
func NewPipelineHandler(processor *pipeline.Processor, exporter pipeline.Exporter) *PipelineHandler {
	return &PipelineHandler{processor: processor, exporter: exporter}
}

// Run POST /pipeline/run.
func (h *PipelineHandler) Run(c *fiber.Ctx) error {
	var req dto.RunPipelineRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}

	stats, err := h.processor.Run(c.Context(), pipeline.RunOptions{FetchFirst: req.Fetch})
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			return apperrors.NewConflict("a pipeline run is already in progress", nil)
		}
		return apperrors.MapError(err)
	}

	return c.JSON(fiber.Map{"data": dto.RunPipelineResponse{
		Fetched:        stats.Fetched,
		Analyzed:       stats.Analyzed,
		Relevant:       stats.Relevant,
		TicketsCreated: stats.TicketsCreated,
		Skipped:        stats.Skipped,
		Errors:         stats.Errors,
		DurationMs:     stats.Duration.Milliseconds(),
		Status:         "completed",
	}})
}

// RebuildExport POST /pipeline/export.
func (h *PipelineHandler) RebuildExport(c *fiber.Ctx) error {
	count, err := h.exporter.Export(c.Context())
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"exported": count}})
}
