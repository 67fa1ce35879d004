package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chat-relay/internal/logger"
)

const messagesTable = `CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`

var sqliteMigrations = []string{
	messagesTable,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`,
}

// Tables written by the first version of the relay have no seq column and
// keep created_at in Unix seconds. They are rebuilt in insertion order.
var legacyMessagesUpgrade = []string{
	`ALTER TABLE messages RENAME TO messages_legacy`,
	messagesTable,
	`INSERT INTO messages (id, session_id, role, content, created_at)
		SELECT id, session_id, role, content, created_at * 1000000000
		FROM messages_legacy ORDER BY created_at, rowid`,
	`DROP TABLE messages_legacy`,
}

// NewSQLite opens (creating if needed) the SQLite database at dsn and applies
// the schema.
func NewSQLite(dsn string) (*sql.DB, error) {
	memory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")

	// Writers take the lock at BEGIN so read-then-insert transactions
	// cannot interleave.
	db, err := sql.Open("sqlite3", withParam(dsn, "_txlock=immediate"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := migrateSQLite(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	columns, err := tableColumns(ctx, tx, "messages")
	if err != nil {
		return err
	}
	if len(columns) > 0 && !columns["seq"] {
		for _, stmt := range legacyMessagesUpgrade {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("upgrade legacy messages table: %w", err)
			}
		}
		l := logger.L()
		l.Info().Msg("upgraded legacy messages table")
	}

	for _, m := range sqliteMigrations {
		if _, err := tx.ExecContext(ctx, m); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// tableColumns returns the column names of table, or an empty set when the
// table does not exist.
func tableColumns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

func withParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}
