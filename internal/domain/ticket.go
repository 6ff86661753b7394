package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "Open"
	TicketStatusInProgress TicketStatus = "In Progress"
	TicketStatusResolved   TicketStatus = "Resolved"
	TicketStatusClosed     TicketStatus = "Closed"
)

// TicketPriority enumerates urgency levels.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "Low"
	TicketPriorityMedium   TicketPriority = "Medium"
	TicketPriorityHigh     TicketPriority = "High"
	TicketPriorityCritical TicketPriority = "Critical"
)

// TicketCategory enumerates SAP modules a ticket can belong to.
type TicketCategory string

const (
	CategoryMM    TicketCategory = "MM"
	CategorySD    TicketCategory = "SD"
	CategoryFICO  TicketCategory = "FICO"
	CategoryPP    TicketCategory = "PP"
	CategoryHCM   TicketCategory = "HCM"
	CategoryPM    TicketCategory = "PM"
	CategoryQM    TicketCategory = "QM"
	CategoryWM    TicketCategory = "WM"
	CategoryPS    TicketCategory = "PS"
	CategoryBW    TicketCategory = "BW"
	CategoryABAP  TicketCategory = "ABAP"
	CategoryBASIS TicketCategory = "BASIS"
	CategoryOther TicketCategory = "OTHER"
)

// ValidCategory reports whether code matches a known SAP module.
func ValidCategory(code string) bool {
	switch TicketCategory(code) {
	case CategoryMM, CategorySD, CategoryFICO, CategoryPP, CategoryHCM,
		CategoryPM, CategoryQM, CategoryWM, CategoryPS, CategoryBW,
		CategoryABAP, CategoryBASIS, CategoryOther:
		return true
	}
	return false
}

// Ticket is the aggregate for support requests, created manually or by the
// email pipeline.
type Ticket struct {
	ID                int64
	TicketID          string
	Title             string
	Description       string
	Status            TicketStatus
	Priority          TicketPriority
	Category          TicketCategory
	CreatedBy         int64
	AssignedTo        *int64
	SourceEmailID     *string
	SourceEmailFrom   *string
	SourceEmailSubj   *string
	LLMConfidence     *float64
	LLMRawResponse    []byte
	ResolvedAt        *time.Time
	ResolutionMinutes *int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AutoCreated reports whether the ticket originated from the email pipeline.
func (t *Ticket) AutoCreated() bool {
	return t.SourceEmailID != nil
}
