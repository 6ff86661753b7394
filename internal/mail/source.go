package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/sap-ticketing/internal/config"
	"github.com/spec-kit/sap-ticketing/internal/domain"
	"github.com/spec-kit/sap-ticketing/internal/repository"
)

const defaultSubject = "(No Subject)"

// Source ingests mailbox messages into the message store, deduplicating on
// the provider message identifier.
type Source struct {
	fetcher  Fetcher
	messages repository.MessageRepository
	cfg      config.MailConfig
	logger   *zap.Logger
}

// NewSource builds a message source.
func NewSource(fetcher Fetcher, messages repository.MessageRepository, cfg config.MailConfig, logger *zap.Logger) *Source {
	return &Source{
		fetcher:  fetcher,
		messages: messages,
		cfg:      cfg,
		logger:   logger,
	}
}

// IngestResult summarizes one fetch-and-store pass.
type IngestResult struct {
	Fetched int
	Stored  []domain.EmailMessage
	Skipped int
}

// Ingest fetches recent messages and stores the ones not seen before.
// Overlapping fetch windows are safe: already-stored identifiers are skipped.
func (s *Source) Ingest(ctx context.Context) (*IngestResult, error) {
	since := time.Now().UTC().AddDate(0, 0, -s.cfg.FetchDays)
	fetched, err := s.fetcher.Fetch(ctx, FetchOptions{
		Folder:   s.cfg.DefaultFolder,
		Since:    since,
		MaxCount: s.cfg.MaxFetch,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch mailbox: %w", err)
	}

	result := &IngestResult{Fetched: len(fetched)}
	for _, raw := range fetched {
		msg := Normalize(raw)

		exists, err := s.messages.Exists(ctx, msg.MessageID)
		if err != nil {
			return result, fmt.Errorf("dedup check %s: %w", msg.MessageID, err)
		}
		if exists {
			result.Skipped++
			continue
		}

		if err := s.messages.Create(ctx, &msg); err != nil {
			return result, fmt.Errorf("store message %s: %w", msg.MessageID, err)
		}
		result.Stored = append(result.Stored, msg)
	}

	s.logger.Info("mailbox ingest completed",
		zap.Int("fetched", result.Fetched),
		zap.Int("stored", len(result.Stored)),
		zap.Int("skipped_duplicates", result.Skipped),
	)
	return result, nil
}

// Normalize converts a raw fetched message into the stored form. The
// internet message identifier is preferred for dedup; the provider record
// identifier is the fallback.
func Normalize(raw FetchedMessage) domain.EmailMessage {
	messageID := raw.InternetMessageID
	if messageID == "" {
		messageID = raw.ProviderID
	}

	subject := strings.TrimSpace(raw.Subject)
	if subject == "" {
		subject = defaultSubject
	}

	msg := domain.EmailMessage{
		MessageID:      messageID,
		FromAddress:    raw.From,
		ToAddress:      raw.To,
		Subject:        subject,
		ReceivedAt:     raw.ReceivedAt,
		HasAttachments: raw.HasAttachments,
	}

	if strings.EqualFold(raw.BodyContentType, "html") {
		html := raw.BodyContent
		msg.BodyHTML = &html
		// bodyPreview is already plain text; good enough for classification
		msg.BodyText = raw.BodyPreview
	} else {
		msg.BodyText = raw.BodyContent
	}
	if strings.TrimSpace(msg.BodyText) == "" {
		msg.BodyText = raw.BodyPreview
	}
	return msg
}
