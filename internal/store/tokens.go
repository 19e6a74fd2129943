package store

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/vlowchat/internal/domain"
)

// CreateToken records a hashed API token for a user. Tokens belong to users,
// not workspaces; membership is checked per request.
func (db *DB) CreateToken(ctx context.Context, tokenHash, userID, label string, kind domain.TokenKind) error {
	_, err := db.x.ExecContext(ctx, db.q(`
		INSERT INTO api_tokens (token_hash, user_id, label, kind, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		tokenHash, userID, label, string(kind), toMicros(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("creating token: %w", err)
	}
	return nil
}

// PrincipalByTokenHash resolves the caller behind a hashed bearer token.
func (db *DB) PrincipalByTokenHash(ctx context.Context, tokenHash string) (domain.Principal, error) {
	var row struct {
		UserID string `db:"user_id"`
		Label  string `db:"label"`
		Kind   string `db:"kind"`
	}
	err := db.x.GetContext(ctx, &row, db.q(`
		SELECT user_id, label, kind FROM api_tokens WHERE token_hash = ?`), tokenHash)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("resolving token: %w", notFound(err))
	}
	return domain.Principal{UserID: row.UserID, Kind: domain.TokenKind(row.Kind), Label: row.Label}, nil
}
