package dto

import "time"

// EmailSummary is the list-view projection of an ingested email.
type EmailSummary struct {
	ID               int64     `json:"id"`
	MessageID        string    `json:"message_id"`
	FromAddress      string    `json:"from_address"`
	Subject          string    `json:"subject"`
	ReceivedAt       time.Time `json:"received_at"`
	Processed        bool      `json:"processed"`
	IsRelevant       *bool     `json:"is_relevant,omitempty"`
	DetectedCategory *string   `json:"detected_category,omitempty"`
	TicketCreatedID  *int64    `json:"ticket_created_id,omitempty"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
}

// EmailStatsResponse summarizes ingestion state.
type EmailStatsResponse struct {
	Total       int64 `json:"total"`
	Processed   int64 `json:"processed"`
	Unprocessed int64 `json:"unprocessed"`
	Relevant    int64 `json:"relevant"`
}
