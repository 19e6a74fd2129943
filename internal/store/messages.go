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

type messageRow struct {
	ID                string         `db:"id"`
	WorkspaceID       string         `db:"workspace_id"`
	ChatID            string         `db:"chat_id"`
	ContactID         string         `db:"contact_id"`
	Direction         string         `db:"direction"`
	SenderType        string         `db:"sender_type"`
	SenderUserID      sql.NullString `db:"sender_user_id"`
	ContentType       string         `db:"content_type"`
	Text              sql.NullString `db:"text"`
	MediaURL          sql.NullString `db:"media_url"`
	MediaMimeType     sql.NullString `db:"media_mime_type"`
	UpstreamMessageID sql.NullString `db:"upstream_message_id"`
	DeliveryStatus    string         `db:"delivery_status"`
	DeliveryError     sql.NullString `db:"delivery_error"`
	CreatedAt         int64          `db:"created_at"`
}

func (r messageRow) toDomain() domain.Message {
	return domain.Message{
		ID:                r.ID,
		WorkspaceID:       r.WorkspaceID,
		ChatID:            r.ChatID,
		ContactID:         r.ContactID,
		Direction:         domain.Direction(r.Direction),
		SenderType:        domain.SenderType(r.SenderType),
		SenderUserID:      r.SenderUserID.String,
		ContentType:       domain.ContentType(r.ContentType),
		Text:              r.Text.String,
		MediaURL:          r.MediaURL.String,
		MediaMimeType:     r.MediaMimeType.String,
		UpstreamMessageID: r.UpstreamMessageID.String,
		DeliveryStatus:    domain.DeliveryStatus(r.DeliveryStatus),
		DeliveryError:     r.DeliveryError.String,
		CreatedAt:         fromMicros(r.CreatedAt),
	}
}

const messageColumns = `id, workspace_id, chat_id, contact_id, direction, sender_type, sender_user_id,
	content_type, text, media_url, media_mime_type, upstream_message_id, delivery_status,
	delivery_error, created_at`

// AppendResult is the outcome of writing a message and its chat activity.
type AppendResult struct {
	Message domain.Message
	Chat    domain.Chat
	// Duplicate is set when the upstream id was already stored; Message is
	// then the earlier row and the chat was left untouched.
	Duplicate bool
}

// AppendInbound stores an inbound message and bumps the chat in one
// transaction. Messages with an upstream id are stored at most once per
// workspace.
func (db *DB) AppendInbound(ctx context.Context, workspaceID string, msg domain.Message) (AppendResult, error) {
	msg.Direction = domain.DirectionInbound
	var out AppendResult
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		stored, inserted, err := db.insertMessage(ctx, tx, workspaceID, msg)
		if err != nil {
			return err
		}
		out.Message = stored
		if !inserted {
			out.Duplicate = true
			return nil
		}
		out.Chat, err = db.touchInbound(ctx, tx, workspaceID, stored.ChatID, stored.CreatedAt)
		return err
	})
	if err != nil {
		return AppendResult{}, err
	}
	if out.Duplicate {
		db.log.Debug().Str("workspace_id", workspaceID).Str("upstream_id", msg.UpstreamMessageID).Msg("duplicate inbound message")
	}
	return out, nil
}

// AppendOutbound stores an outbound message and bumps the chat in one
// transaction.
func (db *DB) AppendOutbound(ctx context.Context, workspaceID string, msg domain.Message) (AppendResult, error) {
	msg.Direction = domain.DirectionOutbound
	var out AppendResult
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		stored, inserted, err := db.insertMessage(ctx, tx, workspaceID, msg)
		if err != nil {
			return err
		}
		out.Message = stored
		if !inserted {
			out.Duplicate = true
			return nil
		}
		out.Chat, err = db.touchOutbound(ctx, tx, workspaceID, stored.ChatID, stored.SenderType, stored.CreatedAt)
		return err
	})
	if err != nil {
		return AppendResult{}, err
	}
	return out, nil
}

func (db *DB) insertMessage(ctx context.Context, ext sqlx.ExtContext, workspaceID string, msg domain.Message) (domain.Message, bool, error) {
	if msg.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Message{}, false, err
		}
		msg.ID = id.String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = domain.DeliveryStored
	}
	msg.WorkspaceID = workspaceID

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if msg.UpstreamMessageID != "" {
		query += `
		ON CONFLICT (workspace_id, upstream_message_id) WHERE upstream_message_id IS NOT NULL DO NOTHING`
	}

	res, err := ext.ExecContext(ctx, db.q(query),
		msg.ID, workspaceID, msg.ChatID, msg.ContactID, string(msg.Direction), string(msg.SenderType),
		nullString(msg.SenderUserID), string(msg.ContentType), nullString(msg.Text),
		nullString(msg.MediaURL), nullString(msg.MediaMimeType), nullString(msg.UpstreamMessageID),
		string(msg.DeliveryStatus), nullString(msg.DeliveryError), toMicros(msg.CreatedAt),
	)
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("inserting message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Message{}, false, err
	}
	if n == 0 {
		existing, err := db.messageByUpstreamID(ctx, ext, workspaceID, msg.UpstreamMessageID)
		return existing, false, err
	}

	msg.CreatedAt = fromMicros(toMicros(msg.CreatedAt))
	return msg, true, nil
}

func (db *DB) messageByUpstreamID(ctx context.Context, ext sqlx.ExtContext, workspaceID, upstreamID string) (domain.Message, error) {
	var row messageRow
	err := sqlx.GetContext(ctx, ext, &row, db.q(`
		SELECT `+messageColumns+` FROM messages WHERE workspace_id = ? AND upstream_message_id = ?`),
		workspaceID, upstreamID,
	)
	if err != nil {
		return domain.Message{}, fmt.Errorf("loading message by upstream id: %w", notFound(err))
	}
	return row.toDomain(), nil
}

// MessageByUpstreamID looks up a message by its provider id.
func (db *DB) MessageByUpstreamID(ctx context.Context, workspaceID, upstreamID string) (domain.Message, error) {
	return db.messageByUpstreamID(ctx, db.x, workspaceID, upstreamID)
}

// GetMessage loads one message within a workspace.
func (db *DB) GetMessage(ctx context.Context, workspaceID, messageID string) (domain.Message, error) {
	var row messageRow
	err := db.x.GetContext(ctx, &row, db.q(`
		SELECT `+messageColumns+` FROM messages WHERE workspace_id = ? AND id = ?`),
		workspaceID, messageID,
	)
	if err != nil {
		return domain.Message{}, fmt.Errorf("loading message: %w", notFound(err))
	}
	return row.toDomain(), nil
}

// SetMessageMedia records the rehosted location of a stored message's media.
func (db *DB) SetMessageMedia(ctx context.Context, workspaceID, messageID, mediaURL string) (domain.Message, error) {
	var row messageRow
	err := db.x.GetContext(ctx, &row, db.q(`
		UPDATE messages SET media_url = ?
		WHERE workspace_id = ? AND id = ?
		RETURNING `+messageColumns),
		nullString(mediaURL), workspaceID, messageID,
	)
	if err != nil {
		return domain.Message{}, fmt.Errorf("setting message media: %w", notFound(err))
	}
	return row.toDomain(), nil
}

// ListMessages returns a chat's messages in creation order. Ids are time
// ordered, so they break ties between equal timestamps.
func (db *DB) ListMessages(ctx context.Context, workspaceID, chatID string, limit int) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE workspace_id = ? AND chat_id = ?
		ORDER BY created_at, id`
	args := []any{workspaceID, chatID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []messageRow
	if err := db.x.SelectContext(ctx, &rows, db.q(query), args...); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	out := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
