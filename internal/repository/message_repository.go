package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sap-ticketing/internal/domain"
)

// MarkProcessedParams records the outcome of one processing attempt.
type MarkProcessedParams struct {
	ID               int64
	IsRelevant       bool
	DetectedCategory *domain.TicketCategory
	RawVerdict       []byte
	TicketCreatedID  *int64
	ErrorMessage     *string
}

// MessageStats summarizes ingestion state.
type MessageStats struct {
	Total       int64
	Processed   int64
	Unprocessed int64
	Relevant    int64
}

// MessageRepository encapsulates email message persistence.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.EmailMessage) error
	Exists(ctx context.Context, messageID string) (bool, error)
	GetByID(ctx context.Context, id int64) (*domain.EmailMessage, error)
	ListUnprocessed(ctx context.Context, limit int) ([]domain.EmailMessage, error)
	ListRecent(ctx context.Context, limit int) ([]domain.EmailMessage, error)
	MarkProcessed(ctx context.Context, params MarkProcessedParams) error
	Stats(ctx context.Context) (MessageStats, error)
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository instantiates repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

const messageColumns = `id, message_id, from_address, to_address, subject, body_text, body_html,
       received_at, has_attachments, processed, processed_at, is_relevant,
       detected_category, raw_verdict, ticket_created_id, error_message, created_at`

func (r *messageRepository) Create(ctx context.Context, msg *domain.EmailMessage) error {
	const query = `
        INSERT INTO email_messages (message_id, from_address, to_address, subject, body_text, body_html, received_at, has_attachments)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		msg.MessageID,
		msg.FromAddress,
		msg.ToAddress,
		msg.Subject,
		msg.BodyText,
		msg.BodyHTML,
		msg.ReceivedAt,
		msg.HasAttachments,
	).Scan(&msg.ID, &msg.CreatedAt)
}

func (r *messageRepository) Exists(ctx context.Context, messageID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM email_messages WHERE message_id=$1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, messageID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *messageRepository) GetByID(ctx context.Context, id int64) (*domain.EmailMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM email_messages WHERE id=$1`
	var msg domain.EmailMessage
	if err := scanMessage(r.pool.QueryRow(ctx, query, id), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) ListUnprocessed(ctx context.Context, limit int) ([]domain.EmailMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + messageColumns + `
        FROM email_messages WHERE processed=false ORDER BY received_at ASC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *messageRepository) ListRecent(ctx context.Context, limit int) ([]domain.EmailMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + messageColumns + `
        FROM email_messages ORDER BY received_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *messageRepository) MarkProcessed(ctx context.Context, params MarkProcessedParams) error {
	const query = `
        UPDATE email_messages
        SET processed=true, processed_at=$1, is_relevant=$2, detected_category=$3,
            raw_verdict=$4, ticket_created_id=$5, error_message=$6
        WHERE id=$7`
	cmd, err := r.pool.Exec(ctx, query,
		time.Now().UTC(),
		params.IsRelevant,
		params.DetectedCategory,
		params.RawVerdict,
		params.TicketCreatedID,
		params.ErrorMessage,
		params.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *messageRepository) Stats(ctx context.Context) (MessageStats, error) {
	const query = `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE processed),
               COUNT(*) FILTER (WHERE NOT processed),
               COUNT(*) FILTER (WHERE is_relevant)
        FROM email_messages`
	var stats MessageStats
	err := r.pool.QueryRow(ctx, query).Scan(
		&stats.Total,
		&stats.Processed,
		&stats.Unprocessed,
		&stats.Relevant,
	)
	return stats, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, msg *domain.EmailMessage) error {
	return row.Scan(
		&msg.ID,
		&msg.MessageID,
		&msg.FromAddress,
		&msg.ToAddress,
		&msg.Subject,
		&msg.BodyText,
		&msg.BodyHTML,
		&msg.ReceivedAt,
		&msg.HasAttachments,
		&msg.Processed,
		&msg.ProcessedAt,
		&msg.IsRelevant,
		&msg.DetectedCategory,
		&msg.RawVerdict,
		&msg.TicketCreatedID,
		&msg.ErrorMessage,
		&msg.CreatedAt,
	)
}

func scanMessages(rows pgx.Rows) ([]domain.EmailMessage, error) {
	var result []domain.EmailMessage
	for rows.Next() {
		var msg domain.EmailMessage
		if err := scanMessage(rows, &msg); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
