package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist or belongs to someone else.
var ErrNotFound = errors.New("not found")

// lookupBatchSize bounds the length of IN (...) lists.
const lookupBatchSize = 500

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to Postgres when dsn is a postgres:// URL and to SQLite
// otherwise. An empty dsn opens a private in-memory SQLite database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return openPostgres(ctx, trimmed)
	}
	return openSQLite(ctx, trimmed)
}

func openPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db, dialect: dialectPostgres}, nil
}

func openSQLite(ctx context.Context, path string) (*Store, error) {
	inMemory := false
	if path == "" {
		path = ":memory:"
		inMemory = true
	}
	if strings.Contains(path, "mode=memory") || path == ":memory:" || path == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{db: db, dialect: dialectSQLite}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	intType := "INTEGER"
	if s.dialect == dialectPostgres {
		idColumn = "id BIGSERIAL PRIMARY KEY"
		intType = "BIGINT"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
            ` + idColumn + `,
            username TEXT NOT NULL UNIQUE,
            email TEXT NOT NULL DEFAULT '',
            password_hash TEXT NOT NULL,
            created_at ` + intType + ` NOT NULL,
            last_login ` + intType + ` NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS inbound_emails (
            id TEXT PRIMARY KEY,
            user_id ` + intType + ` NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            message_id TEXT NOT NULL,
            from_email TEXT NOT NULL,
            from_name TEXT NOT NULL,
            to_header TEXT NOT NULL,
            cc_header TEXT NOT NULL,
            bcc_header TEXT NOT NULL,
            subject TEXT NOT NULL,
            text_body TEXT NOT NULL,
            html_body TEXT NOT NULL,
            stripped_reply TEXT NOT NULL,
            tag TEXT NOT NULL,
            mailbox_hash TEXT NOT NULL,
            headers TEXT NOT NULL,
            raw_payload TEXT NOT NULL,
            received_date TEXT NOT NULL,
            created_at ` + intType + ` NOT NULL
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_inbound_emails_user_message
            ON inbound_emails(user_id, message_id) WHERE message_id <> '';`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_emails_user_created ON inbound_emails(user_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_emails_message ON inbound_emails(message_id);`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
