package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// TicketSequence hands out strictly increasing ticket numbers. Concurrent
// callers never observe the same value.
type TicketSequence interface {
	Next(ctx context.Context) (int64, error)
}

type redisSequence struct {
	client *redis.Client
	key    string
}

// NewRedisSequence allocates ticket numbers via Redis INCR.
func NewRedisSequence(client *redis.Client) TicketSequence {
	return &redisSequence{client: client, key: "sap-ticketing:ticket_seq"}
}

func (s *redisSequence) Next(ctx context.Context) (int64, error) {
	return s.client.Incr(ctx, s.key).Result()
}

type postgresSequence struct {
	pool *pgxpool.Pool
}

// NewPostgresSequence allocates ticket numbers from the ticket_seq database
// sequence. Used when Redis is unreachable.
func NewPostgresSequence(pool *pgxpool.Pool) TicketSequence {
	return &postgresSequence{pool: pool}
}

func (s *postgresSequence) Next(ctx context.Context) (int64, error) {
	var next int64
	err := s.pool.QueryRow(ctx, `SELECT nextval('ticket_seq')`).Scan(&next)
	return next, err
}
