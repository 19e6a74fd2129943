// Package channel keeps the set of outbound transports a reply can be
// delivered through.
package channel

import (
	"sort"
	"sync"

	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/logging"
)

// Registry manages a set of outbound channels.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel
	log      *logging.Logger
}

// NewRegistry creates a channel registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		channels: make(map[string]domain.Channel),
		log:      log.Sub("channels"),
	}
}

// Register adds a channel to the registry, replacing any channel with the
// same ID.
func (r *Registry) Register(ch domain.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.ID()] = ch
	r.log.Info().Str("channel", ch.ID()).Msg("channel registered")
}

// Get returns a channel by ID.
func (r *Registry) Get(id string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// ForIdentity returns the channel that reaches a contact identity.
func (r *Registry) ForIdentity(identity string) (domain.Channel, bool) {
	return r.Get(domain.ChannelForIdentity(identity))
}

// List returns all channel IDs, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status returns the status of all registered channels. Channels without a
// Status method are reported as configured.
func (r *Registry) Status() []domain.ChannelStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make([]domain.ChannelStatus, 0, len(r.channels))
	for _, ch := range r.channels {
		if sc, ok := ch.(interface{ Status() domain.ChannelStatus }); ok {
			statuses = append(statuses, sc.Status())
		} else {
			statuses = append(statuses, domain.ChannelStatus{
				ChannelID:  ch.ID(),
				Configured: true,
			})
		}
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ChannelID < statuses[j].ChannelID })
	return statuses
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
