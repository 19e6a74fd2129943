package store

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/soyeahso/vlowchat/internal/domain"
)

// WorkspaceCache memoises workspace lookups on the ingestion hot path. Only
// hits are cached; unknown ids and numbers always reach the database.
type WorkspaceCache struct {
	db *DB
	c  *gocache.Cache
}

// NewWorkspaceCache wraps db with a TTL cache. A ttl <= 0 disables caching.
func NewWorkspaceCache(db *DB, ttl time.Duration) *WorkspaceCache {
	if ttl <= 0 {
		return &WorkspaceCache{db: db}
	}
	return &WorkspaceCache{db: db, c: gocache.New(ttl, 2*ttl)}
}

// GetWorkspace resolves a workspace by id.
func (wc *WorkspaceCache) GetWorkspace(ctx context.Context, workspaceID string) (domain.Workspace, error) {
	return wc.lookup("id:"+workspaceID, func() (domain.Workspace, error) {
		return wc.db.GetWorkspace(ctx, workspaceID)
	})
}

// WorkspaceByPhoneNumber resolves a workspace by WhatsApp business number.
func (wc *WorkspaceCache) WorkspaceByPhoneNumber(ctx context.Context, phone string) (domain.Workspace, error) {
	return wc.lookup("phone:"+phone, func() (domain.Workspace, error) {
		return wc.db.WorkspaceByPhoneNumber(ctx, phone)
	})
}

// Invalidate drops every cached entry, e.g. after widget settings change.
func (wc *WorkspaceCache) Invalidate() {
	if wc.c != nil {
		wc.c.Flush()
	}
}

func (wc *WorkspaceCache) lookup(key string, load func() (domain.Workspace, error)) (domain.Workspace, error) {
	if wc.c != nil {
		if v, found := wc.c.Get(key); found {
			return v.(domain.Workspace), nil
		}
	}
	ws, err := load()
	if err != nil {
		return domain.Workspace{}, err
	}
	if wc.c != nil {
		wc.c.SetDefault(key, ws)
	}
	return ws, nil
}
