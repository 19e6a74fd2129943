package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/vlowchat/internal/domain"
)

type contactRow struct {
	ID          string         `db:"id"`
	WorkspaceID string         `db:"workspace_id"`
	PhoneNumber string         `db:"phone_number"`
	DisplayName sql.NullString `db:"display_name"`
	LastSeenAt  int64          `db:"last_seen_at"`
	CreatedAt   int64          `db:"created_at"`
}

func (r contactRow) toDomain() domain.Contact {
	return domain.Contact{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		PhoneNumber: r.PhoneNumber,
		DisplayName: r.DisplayName.String,
		LastSeenAt:  fromMicros(r.LastSeenAt),
		CreatedAt:   fromMicros(r.CreatedAt),
	}
}

const contactColumns = `id, workspace_id, phone_number, display_name, last_seen_at, created_at`

// UpsertContact resolves or creates the contact for a channel identity in one
// statement. last_seen_at never moves backwards; an empty displayName keeps
// the stored name.
func (db *DB) UpsertContact(ctx context.Context, workspaceID, identity, displayName string, seenAt time.Time) (domain.Contact, error) {
	seen := toMicros(seenAt)
	var row contactRow
	err := db.x.GetContext(ctx, &row, db.q(`
		INSERT INTO contacts (id, workspace_id, phone_number, display_name, last_seen_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, phone_number) DO UPDATE SET
			last_seen_at = CASE WHEN contacts.last_seen_at < excluded.last_seen_at
				THEN excluded.last_seen_at ELSE contacts.last_seen_at END,
			display_name = COALESCE(excluded.display_name, contacts.display_name)
		RETURNING `+contactColumns),
		uuid.NewString(), workspaceID, identity, nullString(displayName), seen, seen,
	)
	if err != nil {
		return domain.Contact{}, fmt.Errorf("upserting contact: %w", err)
	}
	return row.toDomain(), nil
}

// GetContact loads a contact within a workspace.
func (db *DB) GetContact(ctx context.Context, workspaceID, contactID string) (domain.Contact, error) {
	var row contactRow
	err := db.x.GetContext(ctx, &row, db.q(`
		SELECT `+contactColumns+` FROM contacts WHERE workspace_id = ? AND id = ?`),
		workspaceID, contactID,
	)
	if err != nil {
		return domain.Contact{}, fmt.Errorf("loading contact: %w", notFound(err))
	}
	return row.toDomain(), nil
}

// CountContacts returns how many contacts hold the given identity. Used to
// check uniqueness from tests and the status command.
func (db *DB) CountContacts(ctx context.Context, workspaceID, identity string) (int, error) {
	var n int
	err := db.x.GetContext(ctx, &n, db.q(`
		SELECT COUNT(*) FROM contacts WHERE workspace_id = ? AND phone_number = ?`),
		workspaceID, identity,
	)
	if err != nil {
		return 0, fmt.Errorf("counting contacts: %w", err)
	}
	return n, nil
}
