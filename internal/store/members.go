package store

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/vlowchat/internal/domain"
)

type memberRow struct {
	WorkspaceID string `db:"workspace_id"`
	UserID      string `db:"user_id"`
	Role        string `db:"role"`
	CreatedAt   int64  `db:"created_at"`
}

// AddMember grants a user a role in a workspace, replacing any existing role.
func (db *DB) AddMember(ctx context.Context, workspaceID, userID string, role domain.Role) (domain.Member, error) {
	now := time.Now()
	_, err := db.x.ExecContext(ctx, db.q(`
		INSERT INTO workspace_users (workspace_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = excluded.role`),
		workspaceID, userID, string(role), toMicros(now),
	)
	if err != nil {
		return domain.Member{}, fmt.Errorf("adding member: %w", err)
	}
	return domain.Member{WorkspaceID: workspaceID, UserID: userID, Role: role, CreatedAt: fromMicros(toMicros(now))}, nil
}

// IsMember reports whether userID belongs to the workspace.
func (db *DB) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	var n int
	err := db.x.GetContext(ctx, &n, db.q(`
		SELECT COUNT(*) FROM workspace_users WHERE workspace_id = ? AND user_id = ?`),
		workspaceID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return n > 0, nil
}

// ListMembers returns the members of a workspace.
func (db *DB) ListMembers(ctx context.Context, workspaceID string) ([]domain.Member, error) {
	var rows []memberRow
	err := db.x.SelectContext(ctx, &rows, db.q(`
		SELECT workspace_id, user_id, role, created_at FROM workspace_users
		WHERE workspace_id = ? ORDER BY created_at, user_id`),
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	out := make([]domain.Member, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Member{
			WorkspaceID: r.WorkspaceID,
			UserID:      r.UserID,
			Role:        domain.Role(r.Role),
			CreatedAt:   fromMicros(r.CreatedAt),
		})
	}
	return out, nil
}

// WorkspacesForUser lists the ids of workspaces a user belongs to.
func (db *DB) WorkspacesForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := db.x.SelectContext(ctx, &ids, db.q(`
		SELECT workspace_id FROM workspace_users WHERE user_id = ? ORDER BY workspace_id`), userID)
	if err != nil {
		return nil, fmt.Errorf("listing user workspaces: %w", err)
	}
	return ids, nil
}
