package domain

import "time"

// TicketLogType captures what changed in an audit entry.
type TicketLogType string

const (
	LogTypeCreated        TicketLogType = "CREATED"
	LogTypeStatusChange   TicketLogType = "STATUS_CHANGE"
	LogTypePriorityChange TicketLogType = "PRIORITY_CHANGE"
	LogTypeAssignment     TicketLogType = "ASSIGNMENT"
	LogTypeComment        TicketLogType = "COMMENT"
	LogTypeEmailReceived  TicketLogType = "EMAIL_RECEIVED"
)

// TicketLog is an immutable audit trail entry. One entry is written per
// observable change; unchanged values never produce an entry.
type TicketLog struct {
	ID        int64
	TicketID  int64
	UserID    int64
	LogType   TicketLogType
	Action    string
	OldValue  *string
	NewValue  *string
	Metadata  map[string]any
	CreatedAt time.Time
}
