package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/sap-ticketing/internal/config"
	"github.com/spec-kit/sap-ticketing/internal/domain"
	"github.com/spec-kit/sap-ticketing/internal/repository"
)

// View selects which tickets land in the export file.
type View string

const (
	ViewAll    View = "all"
	ViewAuto   View = "auto"
	ViewManual View = "manual"
)

// TicketExporter rebuilds a JSON snapshot of the ticket table after each
// pipeline run. The snapshot is a full rewrite, so re-running is idempotent.
type TicketExporter struct {
	tickets repository.TicketRepository
	path    string
	view    View
	logger  *zap.Logger
}

// New builds an exporter from config. Unknown modes fall back to "all".
func New(tickets repository.TicketRepository, cfg config.ExportConfig, logger *zap.Logger) *TicketExporter {
	view := View(cfg.Mode)
	switch view {
	case ViewAll, ViewAuto, ViewManual:
	default:
		view = ViewAll
	}
	return &TicketExporter{tickets: tickets, path: cfg.Path, view: view, logger: logger}
}

type exportRecord struct {
	TicketID          string     `json:"ticket_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Status            string     `json:"status"`
	Priority          string     `json:"priority"`
	Category          string     `json:"category"`
	AssignedTo        *int64     `json:"assigned_to,omitempty"`
	SourceEmailFrom   *string    `json:"source_email_from,omitempty"`
	LLMConfidence     *float64   `json:"llm_confidence,omitempty"`
	AutoCreated       bool       `json:"auto_created"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ResolutionMinutes *int       `json:"resolution_minutes,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type exportEnvelope struct {
	GeneratedAt time.Time      `json:"generated_at"`
	View        View           `json:"view"`
	Count       int            `json:"count"`
	Tickets     []exportRecord `json:"tickets"`
}

// Export writes the current ticket view to the configured path and returns
// the number of exported tickets.
func (e *TicketExporter) Export(ctx context.Context) (int, error) {
	tickets, err := e.tickets.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load tickets: %w", err)
	}

	records := make([]exportRecord, 0, len(tickets))
	for i := range tickets {
		t := &tickets[i]
		if !e.includes(t) {
			continue
		}
		records = append(records, exportRecord{
			TicketID:          t.TicketID,
			Title:             t.Title,
			Description:       t.Description,
			Status:            string(t.Status),
			Priority:          string(t.Priority),
			Category:          string(t.Category),
			AssignedTo:        t.AssignedTo,
			SourceEmailFrom:   t.SourceEmailFrom,
			LLMConfidence:     t.LLMConfidence,
			AutoCreated:       t.AutoCreated(),
			ResolvedAt:        t.ResolvedAt,
			ResolutionMinutes: t.ResolutionMinutes,
			CreatedAt:         t.CreatedAt,
			UpdatedAt:         t.UpdatedAt,
		})
	}

	envelope := exportEnvelope{
		GeneratedAt: time.Now().UTC(),
		View:        e.view,
		Count:       len(records),
		Tickets:     records,
	}
	if err := e.writeAtomic(envelope); err != nil {
		return 0, err
	}

	e.logger.Debug("ticket export written",
		zap.String("path", e.path),
		zap.String("view", string(e.view)),
		zap.Int("count", len(records)),
	)
	return len(records), nil
}

func (e *TicketExporter) includes(t *domain.Ticket) bool {
	switch e.view {
	case ViewAuto:
		return t.AutoCreated()
	case ViewManual:
		return !t.AutoCreated()
	default:
		return true
	}
}

// writeAtomic writes to a temp file in the target directory and renames it
// over the destination, so readers never see a partial file.
func (e *TicketExporter) writeAtomic(envelope exportEnvelope) error {
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}

	dir := filepath.Dir(e.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tickets_export_*.json")
	if err != nil {
		return fmt.Errorf("create temp export: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, e.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish export: %w", err)
	}
	return nil
}
