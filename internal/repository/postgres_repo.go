package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chat-relay/internal/models"
)

type PostgresMessageRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresMessageRepo(pool *pgxpool.Pool) *PostgresMessageRepo {
	return &PostgresMessageRepo{pool: pool}
}

func (r *PostgresMessageRepo) Append(ctx context.Context, msgs ...*models.Message) error {
	return r.append(ctx, nil, msgs)
}

func (r *PostgresMessageRepo) AppendWithGreeting(ctx context.Context, greeting *models.Message, msgs ...*models.Message) error {
	return r.append(ctx, greeting, msgs)
}

func (r *PostgresMessageRepo) append(ctx context.Context, greeting *models.Message, msgs []*models.Message) error {
	if greeting == nil && len(msgs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	stamp(msgs, now)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	if greeting != nil {
		stamp([]*models.Message{greeting}, now)
		// Serializes first writes to one session across replicas until commit.
		batch.Queue(`SELECT pg_advisory_xact_lock(hashtext($1::text))`, greeting.SessionID.String())
		batch.Queue(`INSERT INTO chat_messages (id, session_id, role, content, created_at)
			SELECT $1::uuid, $2::uuid, $3::text, $4::text, $5::timestamptz
			WHERE NOT EXISTS (SELECT 1 FROM chat_messages WHERE session_id = $2::uuid)`,
			greeting.ID, greeting.SessionID, greeting.Role, greeting.Content, greeting.CreatedAt)
	}
	for _, m := range msgs {
		batch.Queue(`INSERT INTO chat_messages (id, session_id, role, content, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert messages: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PostgresMessageRepo) Recent(ctx context.Context, sessionID uuid.UUID, n int) ([]models.Message, error) {
	query := `SELECT id, session_id, role, content, created_at
		FROM chat_messages WHERE session_id = $1
		ORDER BY seq DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, sessionID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(msgs)
	return msgs, nil
}
