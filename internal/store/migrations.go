package store

import (
	"context"
	"fmt"
	"time"
)

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations. The SQL is kept
// to the subset shared by SQLite and Postgres.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create workspaces, contacts, chats and messages",
		SQL: `
			CREATE TABLE workspaces (
				id                      TEXT PRIMARY KEY,
				name                    TEXT NOT NULL,
				whatsapp_phone_number   TEXT,
				widget_secret_hash      TEXT,
				widget_allowed_origins  TEXT NOT NULL DEFAULT '[]',
				locale                  TEXT NOT NULL DEFAULT 'id-ID',
				timezone                TEXT NOT NULL DEFAULT 'UTC',
				currency_code           TEXT NOT NULL DEFAULT 'IDR',
				created_at              BIGINT NOT NULL
			);

			CREATE UNIQUE INDEX idx_workspaces_phone ON workspaces (whatsapp_phone_number)
				WHERE whatsapp_phone_number IS NOT NULL;

			CREATE TABLE workspace_users (
				workspace_id  TEXT NOT NULL REFERENCES workspaces(id),
				user_id       TEXT NOT NULL,
				role          TEXT NOT NULL CHECK (role IN ('owner', 'admin')),
				created_at    BIGINT NOT NULL,
				PRIMARY KEY (workspace_id, user_id)
			);

			CREATE TABLE contacts (
				id            TEXT PRIMARY KEY,
				workspace_id  TEXT NOT NULL REFERENCES workspaces(id),
				phone_number  TEXT NOT NULL,
				display_name  TEXT,
				last_seen_at  BIGINT NOT NULL,
				created_at    BIGINT NOT NULL,
				UNIQUE (workspace_id, phone_number)
			);

			CREATE TABLE chats (
				id                      TEXT PRIMARY KEY,
				workspace_id            TEXT NOT NULL REFERENCES workspaces(id),
				contact_id              TEXT NOT NULL REFERENCES contacts(id),
				current_status          TEXT NOT NULL DEFAULT 'ai'
					CHECK (current_status IN ('ai', 'needs_action', 'human', 'resolved')),
				assigned_user_id        TEXT,
				unread_count_for_human  INTEGER NOT NULL DEFAULT 0,
				last_message_at         BIGINT NOT NULL,
				created_at              BIGINT NOT NULL,
				UNIQUE (workspace_id, contact_id)
			);

			CREATE INDEX idx_chats_activity ON chats (workspace_id, last_message_at);

			CREATE TABLE messages (
				id                   TEXT PRIMARY KEY,
				workspace_id         TEXT NOT NULL REFERENCES workspaces(id),
				chat_id              TEXT NOT NULL REFERENCES chats(id),
				contact_id           TEXT NOT NULL REFERENCES contacts(id),
				direction            TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
				sender_type          TEXT NOT NULL CHECK (sender_type IN ('customer', 'ai', 'human')),
				sender_user_id       TEXT,
				content_type         TEXT NOT NULL,
				text                 TEXT,
				media_url            TEXT,
				media_mime_type      TEXT,
				upstream_message_id  TEXT,
				delivery_status      TEXT NOT NULL DEFAULT 'stored',
				delivery_error       TEXT,
				created_at           BIGINT NOT NULL
			);

			CREATE UNIQUE INDEX idx_messages_upstream ON messages (workspace_id, upstream_message_id)
				WHERE upstream_message_id IS NOT NULL;
			CREATE INDEX idx_messages_chat ON messages (workspace_id, chat_id, created_at, id);
		`,
	},
	{
		Version: 2,
		Name:    "create invoices",
		SQL: `
			CREATE TABLE invoices (
				id                  TEXT PRIMARY KEY,
				workspace_id        TEXT NOT NULL REFERENCES workspaces(id),
				chat_id             TEXT NOT NULL REFERENCES chats(id),
				contact_id          TEXT NOT NULL REFERENCES contacts(id),
				invoice_number      TEXT NOT NULL,
				status              TEXT NOT NULL DEFAULT 'waiting_for_payment'
					CHECK (status IN ('waiting_for_payment', 'paid', 'approved')),
				currency_code       TEXT NOT NULL,
				subtotal_amount     BIGINT NOT NULL DEFAULT 0,
				discount_amount     BIGINT NOT NULL DEFAULT 0,
				tax_amount          BIGINT NOT NULL DEFAULT 0,
				total_amount        BIGINT NOT NULL DEFAULT 0,
				created_by_type     TEXT NOT NULL CHECK (created_by_type IN ('ai', 'human')),
				created_by_user_id  TEXT,
				created_at          BIGINT NOT NULL,
				updated_at          BIGINT NOT NULL,
				UNIQUE (workspace_id, invoice_number)
			);

			CREATE INDEX idx_invoices_status ON invoices (workspace_id, status, updated_at);

			CREATE TABLE invoice_items (
				id              TEXT PRIMARY KEY,
				invoice_id      TEXT NOT NULL REFERENCES invoices(id),
				line_no         INTEGER NOT NULL,
				name            TEXT NOT NULL,
				description     TEXT,
				quantity        BIGINT NOT NULL,
				unit_price      BIGINT NOT NULL,
				discount_type   TEXT NOT NULL DEFAULT 'none'
					CHECK (discount_type IN ('none', 'percentage', 'fixed')),
				discount_value  BIGINT NOT NULL DEFAULT 0,
				line_total      BIGINT NOT NULL
			);

			CREATE INDEX idx_invoice_items_invoice ON invoice_items (invoice_id, line_no);
		`,
	},
	{
		Version: 3,
		Name:    "create rate limit counters and api tokens",
		SQL: `
			CREATE TABLE rate_limit_counters (
				workspace_id   TEXT NOT NULL,
				visitor_id     TEXT NOT NULL,
				request_count  INTEGER NOT NULL,
				window_start   BIGINT NOT NULL,
				PRIMARY KEY (workspace_id, visitor_id)
			);

			CREATE TABLE api_tokens (
				token_hash  TEXT PRIMARY KEY,
				user_id     TEXT NOT NULL,
				label       TEXT NOT NULL DEFAULT '',
				kind        TEXT NOT NULL CHECK (kind IN ('agent', 'ai')),
				created_at  BIGINT NOT NULL
			);

			CREATE INDEX idx_api_tokens_user ON api_tokens (user_id);
		`,
	},
}

// migrate runs all pending migrations.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.x.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			name        TEXT NOT NULL,
			applied_at  BIGINT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := db.isMigrationApplied(ctx, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

		tx, err := db.x.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}

		if _, err := tx.ExecContext(ctx,
			db.q("INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)"),
			m.Version, m.Name, toMicros(time.Now()),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (db *DB) isMigrationApplied(ctx context.Context, version int) (bool, error) {
	var count int
	err := db.x.GetContext(ctx, &count, db.q("SELECT COUNT(*) FROM schema_migrations WHERE version = ?"), version)
	if err != nil {
		return false, fmt.Errorf("checking migration %d: %w", version, err)
	}
	return count > 0, nil
}

// MigrationStatus lists applied migration versions, for the CLI.
type MigrationStatus struct {
	Version   int       `db:"version"`
	Name      string    `db:"name"`
	AppliedAt time.Time `db:"-"`
}

// AppliedMigrations returns the migrations recorded in schema_migrations.
func (db *DB) AppliedMigrations(ctx context.Context) ([]MigrationStatus, error) {
	var rows []struct {
		Version   int    `db:"version"`
		Name      string `db:"name"`
		AppliedAt int64  `db:"applied_at"`
	}
	if err := db.x.SelectContext(ctx, &rows, "SELECT version, name, applied_at FROM schema_migrations ORDER BY version"); err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}
	out := make([]MigrationStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, MigrationStatus{Version: r.Version, Name: r.Name, AppliedAt: fromMicros(r.AppliedAt)})
	}
	return out, nil
}

// LatestMigration is the schema version this binary expects.
func LatestMigration() int {
	return migrations[len(migrations)-1].Version
}
