package domain

import "time"

// EmailMessage is a normalized inbound email tracked through the
// classification pipeline. MessageID is the source-assigned identifier and
// is unique; fetching an already-seen identifier is a no-op.
type EmailMessage struct {
	ID               int64
	MessageID        string
	FromAddress      string
	ToAddress        string
	Subject          string
	BodyText         string
	BodyHTML         *string
	ReceivedAt       time.Time
	HasAttachments   bool
	Processed        bool
	ProcessedAt      *time.Time
	IsRelevant       *bool
	DetectedCategory *TicketCategory
	RawVerdict       []byte
	TicketCreatedID  *int64
	ErrorMessage     *string
	CreatedAt        time.Time
}
