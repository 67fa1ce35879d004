package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chat-relay/internal/models"
)

// SQLiteMessageRepo keeps conversations in a local SQLite file.
type SQLiteMessageRepo struct {
	db *sql.DB
}

func NewSQLiteMessageRepo(db *sql.DB) *SQLiteMessageRepo {
	return &SQLiteMessageRepo{db: db}
}

func (r *SQLiteMessageRepo) Append(ctx context.Context, msgs ...*models.Message) error {
	return r.append(ctx, nil, msgs)
}

func (r *SQLiteMessageRepo) AppendWithGreeting(ctx context.Context, greeting *models.Message, msgs ...*models.Message) error {
	return r.append(ctx, greeting, msgs)
}

func (r *SQLiteMessageRepo) append(ctx context.Context, greeting *models.Message, msgs []*models.Message) error {
	if greeting == nil && len(msgs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	stamp(msgs, now)

	// The database is opened with _txlock=immediate, so the emptiness check
	// below runs under the write lock.
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if greeting != nil {
		stamp([]*models.Message{greeting}, now)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, content, created_at)
			SELECT ?, ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM messages WHERE session_id = ?)`,
			greeting.ID.String(), greeting.SessionID.String(), greeting.Role, greeting.Content,
			greeting.CreatedAt.UnixNano(), greeting.SessionID.String()); err != nil {
			return fmt.Errorf("insert greeting: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx, m.ID.String(), m.SessionID.String(), m.Role, m.Content, m.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteMessageRepo) Recent(ctx context.Context, sessionID uuid.UUID, n int) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages
		WHERE session_id = ? ORDER BY seq DESC LIMIT ?`,
		sessionID.String(), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var (
			m         models.Message
			id, sid   string
			createdAt int64
		)
		if err := rows.Scan(&id, &sid, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		if m.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("message %q: %w", id, err)
		}
		if m.SessionID, err = uuid.Parse(sid); err != nil {
			return nil, fmt.Errorf("message %q session: %w", id, err)
		}
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(msgs)
	return msgs, nil
}
