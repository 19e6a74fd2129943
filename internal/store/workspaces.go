package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/vlowchat/internal/domain"
)

type workspaceRow struct {
	ID               string         `db:"id"`
	Name             string         `db:"name"`
	PhoneNumber      sql.NullString `db:"whatsapp_phone_number"`
	WidgetSecretHash sql.NullString `db:"widget_secret_hash"`
	AllowedOrigins   string         `db:"widget_allowed_origins"`
	Locale           string         `db:"locale"`
	Timezone         string         `db:"timezone"`
	CurrencyCode     string         `db:"currency_code"`
	CreatedAt        int64          `db:"created_at"`
}

func (r workspaceRow) toDomain() domain.Workspace {
	ws := domain.Workspace{
		ID:                  r.ID,
		Name:                r.Name,
		WhatsAppPhoneNumber: r.PhoneNumber.String,
		WidgetSecretHash:    r.WidgetSecretHash.String,
		Locale:              r.Locale,
		Timezone:            r.Timezone,
		CurrencyCode:        r.CurrencyCode,
		CreatedAt:           fromMicros(r.CreatedAt),
	}
	// A malformed list is treated as no restriction configured.
	_ = json.Unmarshal([]byte(r.AllowedOrigins), &ws.WidgetAllowedOrigins)
	return ws
}

const workspaceColumns = `id, name, whatsapp_phone_number, widget_secret_hash, widget_allowed_origins,
	locale, timezone, currency_code, created_at`

// CreateWorkspace inserts a workspace. Missing id, timezone, currency and
// locale are filled in.
func (db *DB) CreateWorkspace(ctx context.Context, ws domain.Workspace) (domain.Workspace, error) {
	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	if ws.Timezone == "" {
		ws.Timezone = "UTC"
	}
	if ws.CurrencyCode == "" {
		ws.CurrencyCode = "IDR"
	}
	if ws.Locale == "" {
		ws.Locale = "id-ID"
	}
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now().UTC()
	}
	origins := ws.WidgetAllowedOrigins
	if origins == nil {
		origins = []string{}
	}
	originsJSON, err := json.Marshal(origins)
	if err != nil {
		return domain.Workspace{}, err
	}

	_, err = db.x.ExecContext(ctx, db.q(`
		INSERT INTO workspaces (`+workspaceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ws.ID, ws.Name, nullString(ws.WhatsAppPhoneNumber), nullString(ws.WidgetSecretHash),
		string(originsJSON), ws.Locale, ws.Timezone, ws.CurrencyCode, toMicros(ws.CreatedAt),
	)
	if err != nil {
		return domain.Workspace{}, fmt.Errorf("inserting workspace: %w", err)
	}
	ws.CreatedAt = fromMicros(toMicros(ws.CreatedAt))
	return ws, nil
}

// GetWorkspace loads a workspace by id.
func (db *DB) GetWorkspace(ctx context.Context, workspaceID string) (domain.Workspace, error) {
	var row workspaceRow
	err := db.x.GetContext(ctx, &row, db.q(`SELECT `+workspaceColumns+` FROM workspaces WHERE id = ?`), workspaceID)
	if err != nil {
		return domain.Workspace{}, fmt.Errorf("loading workspace: %w", notFound(err))
	}
	return row.toDomain(), nil
}

// WorkspaceByPhoneNumber resolves the workspace that owns a WhatsApp
// business number.
func (db *DB) WorkspaceByPhoneNumber(ctx context.Context, phone string) (domain.Workspace, error) {
	var row workspaceRow
	err := db.x.GetContext(ctx, &row, db.q(`SELECT `+workspaceColumns+` FROM workspaces WHERE whatsapp_phone_number = ?`), phone)
	if err != nil {
		return domain.Workspace{}, fmt.Errorf("resolving workspace by phone: %w", notFound(err))
	}
	return row.toDomain(), nil
}

// ListWorkspaces returns every workspace ordered by creation time.
func (db *DB) ListWorkspaces(ctx context.Context) ([]domain.Workspace, error) {
	var rows []workspaceRow
	if err := db.x.SelectContext(ctx, &rows, `SELECT `+workspaceColumns+` FROM workspaces ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	out := make([]domain.Workspace, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// UpdateWidgetSettings replaces the widget secret hash and origin list.
// An empty hash clears the secret.
func (db *DB) UpdateWidgetSettings(ctx context.Context, workspaceID, secretHash string, origins []string) error {
	if origins == nil {
		origins = []string{}
	}
	originsJSON, err := json.Marshal(origins)
	if err != nil {
		return err
	}
	res, err := db.x.ExecContext(ctx, db.q(`
		UPDATE workspaces SET widget_secret_hash = ?, widget_allowed_origins = ?
		WHERE id = ?`),
		nullString(secretHash), string(originsJSON), workspaceID,
	)
	if err != nil {
		return fmt.Errorf("updating widget settings: %w", err)
	}
	return requireRow(res, "workspace")
}

// requireRow turns a zero-row update into domain.ErrNotFound.
func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}
