package dto

import "time"

// CreateTicketRequest is the manual ticket creation payload.
type CreateTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	AssignedTo  *int64 `json:"assigned_to"`
}

// UpdateTicketRequest carries optional field changes.
type UpdateTicketRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	Category    *string `json:"category"`
	AssignedTo  *int64  `json:"assigned_to"`
	Unassign    bool    `json:"unassign"`
}

// TicketSummary is the list-view projection of a ticket.
type TicketSummary struct {
	ID            int64     `json:"id"`
	TicketID      string    `json:"ticket_id"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	Priority      string    `json:"priority"`
	Category      string    `json:"category"`
	AssignedTo    *int64    `json:"assigned_to,omitempty"`
	AutoCreated   bool      `json:"auto_created"`
	LLMConfidence *float64  `json:"llm_confidence,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TicketDetail extends the summary with full content and audit trail.
type TicketDetail struct {
	TicketSummary
	Description       string           `json:"description"`
	SourceEmailFrom   *string          `json:"source_email_from,omitempty"`
	SourceEmailSubj   *string          `json:"source_email_subject,omitempty"`
	ResolvedAt        *time.Time       `json:"resolved_at,omitempty"`
	ResolutionMinutes *int             `json:"resolution_minutes,omitempty"`
	History           []TicketLogEntry `json:"history"`
}

// TicketLogEntry is one audit trail row.
type TicketLogEntry struct {
	ID        int64          `json:"id"`
	LogType   string         `json:"log_type"`
	Action    string         `json:"action"`
	OldValue  *string        `json:"old_value,omitempty"`
	NewValue  *string        `json:"new_value,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TicketListResponse wraps a page of tickets.
type TicketListResponse struct {
	Items  []TicketSummary `json:"items"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}
