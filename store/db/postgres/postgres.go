package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/mydost/dost/internal/profile"
	"github.com/mydost/dost/store"
)

// DB is a PostgreSQL implementation of store.Driver.
type DB struct {
	db      *sql.DB
	profile *profile.Profile

	vectorEnabled bool
}

// NewDB opens a database connection specified by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// VectorEnabled reports whether the pgvector extension was available when the
// schema migrated. When false, vector memory reads return empty and writes are
// dropped; conversation logging and quotas keep working.
func (d *DB) VectorEnabled() bool {
	return d.vectorEnabled
}

// Migrate creates the schema. The vector extension is best effort: a managed
// database without pgvector still gets the relational tables.
func (d *DB) Migrate(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "failed to ping database")
	}

	if _, err := d.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		slog.Warn("pgvector extension unavailable, memory retrieval degraded", "error", err)
	} else {
		d.vectorEnabled = true
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user ON messages (user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			preferences JSONB NOT NULL DEFAULT '{}'::jsonb,
			interests JSONB NOT NULL DEFAULT '[]'::jsonb,
			conversation_count INTEGER NOT NULL DEFAULT 0,
			total_messages INTEGER NOT NULL DEFAULT 0,
			first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_active TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id BIGSERIAL PRIMARY KEY,
			uid TEXT NOT NULL UNIQUE,
			sport TEXT NOT NULL,
			query_type TEXT NOT NULL,
			match_details TEXT NOT NULL,
			analysis TEXT NOT NULL,
			sources JSONB NOT NULL DEFAULT '[]'::jsonb,
			view_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_lookup ON predictions (sport, query_type, match_details, active)`,
		`CREATE TABLE IF NOT EXISTS quota_ledger (
			user_id TEXT PRIMARY KEY,
			tier TEXT NOT NULL,
			messages_lifetime INTEGER NOT NULL DEFAULT 0,
			messages_today INTEGER NOT NULL DEFAULT 0,
			daily_reset_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS guest_counters (
			fingerprint TEXT PRIMARY KEY,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to run migration statement")
		}
	}

	if d.vectorEnabled {
		vectorStmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chat_vectors (
				id BIGSERIAL PRIMARY KEY,
				user_id TEXT NOT NULL,
				conversation_id TEXT NOT NULL DEFAULT '',
				memory_type TEXT NOT NULL,
				content TEXT NOT NULL,
				embedding vector(%d),
				metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, d.profile.EmbeddingDim),
			`CREATE INDEX IF NOT EXISTS idx_chat_vectors_user ON chat_vectors (user_id, memory_type)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_vectors_embedding ON chat_vectors
				USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		}
		for _, stmt := range vectorStmts {
			if _, err := d.db.ExecContext(ctx, stmt); err != nil {
				return errors.Wrap(err, "failed to create vector table")
			}
		}
	}

	return nil
}

// placeholder returns $n for PostgreSQL positional parameters.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		list = append(list, placeholder(i))
	}
	return strings.Join(list, ", ")
}
