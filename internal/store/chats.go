package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/soyeahso/vlowchat/internal/domain"
)

type chatRow struct {
	ID             string         `db:"id"`
	WorkspaceID    string         `db:"workspace_id"`
	ContactID      string         `db:"contact_id"`
	Status         string         `db:"current_status"`
	AssignedUserID sql.NullString `db:"assigned_user_id"`
	Unread         int            `db:"unread_count_for_human"`
	LastMessageAt  int64          `db:"last_message_at"`
	CreatedAt      int64          `db:"created_at"`

	// Populated by the contact join.
	ContactPhone     sql.NullString `db:"contact_phone_number"`
	ContactName      sql.NullString `db:"contact_display_name"`
	ContactLastSeen  sql.NullInt64  `db:"contact_last_seen_at"`
	ContactCreatedAt sql.NullInt64  `db:"contact_created_at"`
}

func (r chatRow) toDomain() domain.Chat {
	c := domain.Chat{
		ID:                  r.ID,
		WorkspaceID:         r.WorkspaceID,
		ContactID:           r.ContactID,
		Status:              domain.ChatStatus(r.Status),
		AssignedUserID:      r.AssignedUserID.String,
		UnreadCountForHuman: r.Unread,
		LastMessageAt:       fromMicros(r.LastMessageAt),
		CreatedAt:           fromMicros(r.CreatedAt),
	}
	if r.ContactPhone.Valid {
		c.Contact = &domain.Contact{
			ID:          r.ContactID,
			WorkspaceID: r.WorkspaceID,
			PhoneNumber: r.ContactPhone.String,
			DisplayName: r.ContactName.String,
			LastSeenAt:  fromMicros(r.ContactLastSeen.Int64),
			CreatedAt:   fromMicros(r.ContactCreatedAt.Int64),
		}
	}
	return c
}

const chatColumns = `id, workspace_id, contact_id, current_status, assigned_user_id,
	unread_count_for_human, last_message_at, created_at`

const chatWithContactSelect = `
	SELECT c.id, c.workspace_id, c.contact_id, c.current_status, c.assigned_user_id,
		c.unread_count_for_human, c.last_message_at, c.created_at,
		ct.phone_number AS contact_phone_number, ct.display_name AS contact_display_name,
		ct.last_seen_at AS contact_last_seen_at, ct.created_at AS contact_created_at
	FROM chats c
	JOIN contacts ct ON ct.id = c.contact_id AND ct.workspace_id = c.workspace_id`

// EnsureChat returns the single chat for a contact, creating it in status ai
// when none exists. created reports whether this call inserted the row.
func (db *DB) EnsureChat(ctx context.Context, workspaceID, contactID string, at time.Time) (chat domain.Chat, created bool, err error) {
	res, err := db.x.ExecContext(ctx, db.q(`
		INSERT INTO chats (id, workspace_id, contact_id, current_status, unread_count_for_human, last_message_at, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (workspace_id, contact_id) DO NOTHING`),
		uuid.NewString(), workspaceID, contactID, string(domain.ChatStatusAI), toMicros(at), toMicros(at),
	)
	if err != nil {
		return domain.Chat{}, false, fmt.Errorf("creating chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Chat{}, false, err
	}

	var row chatRow
	err = db.x.GetContext(ctx, &row, db.q(chatWithContactSelect+`
		WHERE c.workspace_id = ? AND c.contact_id = ?`),
		workspaceID, contactID,
	)
	if err != nil {
		return domain.Chat{}, false, fmt.Errorf("loading chat: %w", notFound(err))
	}
	return row.toDomain(), n == 1, nil
}

// ReopenResolved moves a resolved chat back to ai. It reports whether the
// chat was resolved.
func (db *DB) ReopenResolved(ctx context.Context, workspaceID, chatID string) (bool, error) {
	res, err := db.x.ExecContext(ctx, db.q(`
		UPDATE chats SET current_status = ?
		WHERE workspace_id = ? AND id = ? AND current_status = ?`),
		string(domain.ChatStatusAI), workspaceID, chatID, string(domain.ChatStatusResolved),
	)
	if err != nil {
		return false, fmt.Errorf("reopening chat: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// GetChat loads a chat and its contact within a workspace.
func (db *DB) GetChat(ctx context.Context, workspaceID, chatID string) (domain.Chat, error) {
	var row chatRow
	err := db.x.GetContext(ctx, &row, db.q(chatWithContactSelect+`
		WHERE c.workspace_id = ? AND c.id = ?`),
		workspaceID, chatID,
	)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("loading chat: %w", notFound(err))
	}
	return row.toDomain(), nil
}

// ChatWorkspaceID resolves which workspace owns a chat. It is the only chat
// lookup without a workspace filter: callers holding just a chat id use it to
// derive the tenant before every scoped read.
func (db *DB) ChatWorkspaceID(ctx context.Context, chatID string) (string, error) {
	var ws string
	err := db.x.GetContext(ctx, &ws, db.q(`SELECT workspace_id FROM chats WHERE id = ?`), chatID)
	if err != nil {
		return "", fmt.Errorf("resolving chat workspace: %w", notFound(err))
	}
	return ws, nil
}

// ChatFilter narrows ListChats.
type ChatFilter struct {
	Status domain.ChatStatus // empty for all
	Limit  int
}

// ListChats returns chats by most recent activity.
func (db *DB) ListChats(ctx context.Context, workspaceID string, f ChatFilter) ([]domain.Chat, error) {
	query := chatWithContactSelect + ` WHERE c.workspace_id = ?`
	args := []any{workspaceID}
	if f.Status != "" {
		query += ` AND c.current_status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY c.last_message_at DESC, c.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var rows []chatRow
	if err := db.x.SelectContext(ctx, &rows, db.q(query), args...); err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	out := make([]domain.Chat, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// SetChatStatus writes a status unconditionally. Taking over (human) assigns
// actorUserID and clears unread; resolving clears unread.
func (db *DB) SetChatStatus(ctx context.Context, workspaceID, chatID string, status domain.ChatStatus, actorUserID string) (domain.Chat, error) {
	clearsUnread := status == domain.ChatStatusHuman || status == domain.ChatStatusResolved
	assigns := status == domain.ChatStatusHuman && actorUserID != ""

	var row chatRow
	err := db.x.GetContext(ctx, &row, db.q(`
		UPDATE chats SET
			current_status = ?,
			assigned_user_id = CASE WHEN ? = 1 THEN ? ELSE assigned_user_id END,
			unread_count_for_human = CASE WHEN ? = 1 THEN 0 ELSE unread_count_for_human END
		WHERE workspace_id = ? AND id = ?
		RETURNING `+chatColumns),
		string(status), boolInt(assigns), actorUserID, boolInt(clearsUnread), workspaceID, chatID,
	)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("setting chat status: %w", notFound(err))
	}
	return row.toDomain(), nil
}

// MarkChatRead resets the unread counter.
func (db *DB) MarkChatRead(ctx context.Context, workspaceID, chatID string) (domain.Chat, error) {
	var row chatRow
	err := db.x.GetContext(ctx, &row, db.q(`
		UPDATE chats SET unread_count_for_human = 0
		WHERE workspace_id = ? AND id = ?
		RETURNING `+chatColumns),
		workspaceID, chatID,
	)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("marking chat read: %w", notFound(err))
	}
	return row.toDomain(), nil
}

// touchInbound bumps activity for an inbound message. last_message_at only
// moves forward; unread grows by one unless the AI owns the chat.
func (db *DB) touchInbound(ctx context.Context, ext sqlx.ExtContext, workspaceID, chatID string, at time.Time) (domain.Chat, error) {
	ts := toMicros(at)
	var row chatRow
	err := sqlx.GetContext(ctx, ext, &row, db.q(`
		UPDATE chats SET
			last_message_at = CASE WHEN last_message_at < ? THEN ? ELSE last_message_at END,
			unread_count_for_human = unread_count_for_human
				+ CASE WHEN current_status <> ? THEN 1 ELSE 0 END
		WHERE workspace_id = ? AND id = ?
		RETURNING `+chatColumns),
		ts, ts, string(domain.ChatStatusAI), workspaceID, chatID,
	)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("updating chat activity: %w", notFound(err))
	}
	return row.toDomain(), nil
}

// touchOutbound bumps activity for an outbound message. A human send pins the
// chat to human and clears unread.
func (db *DB) touchOutbound(ctx context.Context, ext sqlx.ExtContext, workspaceID, chatID string, sender domain.SenderType, at time.Time) (domain.Chat, error) {
	ts := toMicros(at)
	human := boolInt(sender == domain.SenderHuman)
	var row chatRow
	err := sqlx.GetContext(ctx, ext, &row, db.q(`
		UPDATE chats SET
			last_message_at = CASE WHEN last_message_at < ? THEN ? ELSE last_message_at END,
			current_status = CASE WHEN ? = 1 THEN ? ELSE current_status END,
			unread_count_for_human = CASE WHEN ? = 1 THEN 0 ELSE unread_count_for_human END
		WHERE workspace_id = ? AND id = ?
		RETURNING `+chatColumns),
		ts, ts, human, string(domain.ChatStatusHuman), human, workspaceID, chatID,
	)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("updating chat activity: %w", notFound(err))
	}
	return row.toDomain(), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
