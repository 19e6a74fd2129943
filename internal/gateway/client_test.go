package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soyeahso/vlowchat/internal/domain"
)

func TestClient_Subscribed(t *testing.T) {
	ws := []string{"ws-1", "ws-2"}
	c := NewClient(nil, ClientInfo{ID: "ui"}, domain.Principal{UserID: "u1"}, ws, testLogger())
	ws[0] = "mutated"

	assert.True(t, c.Subscribed("ws-1"))
	assert.True(t, c.Subscribed("ws-2"))
	assert.False(t, c.Subscribed("ws-3"))
	assert.Equal(t, []string{"ws-1", "ws-2"}, c.Workspaces())
	assert.NotEmpty(t, c.ConnID)
}

func TestClientRegistry_AddRemove(t *testing.T) {
	r := NewClientRegistry(testLogger())
	c := NewClient(nil, ClientInfo{ID: "ui"}, domain.Principal{UserID: "u1"}, nil, testLogger())

	r.Add(c)
	assert.Equal(t, 1, r.Count())
	got, ok := r.Get(c.ConnID)
	assert.True(t, ok)
	assert.Same(t, c, got)

	r.Remove(c.ConnID)
	assert.Equal(t, 0, r.Count())
	_, ok = r.Get(c.ConnID)
	assert.False(t, ok)
}

func TestClientRegistry_BroadcastSkipsOtherWorkspaces(t *testing.T) {
	r := NewClientRegistry(testLogger())
	r.Add(NewClient(nil, ClientInfo{ID: "ui"}, domain.Principal{UserID: "u1"}, []string{"ws-1"}, testLogger()))

	assert.Equal(t, 0, r.BroadcastWorkspace("ws-2", "chat.changed", nil, 1))
}
