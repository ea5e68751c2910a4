package relay

import (
	"cmp"
	"slices"
	"sync"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

type registration struct {
	client   *Client
	presence types.Presence
	seq      uint64
}

// Registry maps live connections to the identity announced on them. A user
// may be present on several connections at once; byUser keeps each user's
// connection ids in registration order so Resolve can pick the most recent.
type Registry struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]*registration
	byUser  map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registration),
		byUser:  make(map[string][]string),
	}
}

// Register stores the presence for the client's connection and returns the
// current presence list. When the connection had already announced, the
// identity it replaced is returned as prev with replaced set.
func (r *Registry) Register(c *Client, user types.User) (list []types.Presence, prev types.Presence, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[c.id]; ok {
		r.dropFromUserLocked(old.presence.UserId, c.id)
		prev, replaced = old.presence, true
	}

	r.seq++
	r.entries[c.id] = &registration{
		client: c,
		presence: types.Presence{
			ConnectionId: c.id,
			UserId:       user.Id,
			Username:     user.Username,
		},
		seq: r.seq,
	}
	r.byUser[user.Id] = append(r.byUser[user.Id], c.id)

	return r.presencesLocked(), prev, replaced
}

// Resolve returns the most recently registered connection for userId.
func (r *Registry) Resolve(userId string) (*Client, types.Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.byUser[userId]
	if len(conns) == 0 {
		return nil, types.Presence{}, false
	}

	reg := r.entries[conns[len(conns)-1]]
	return reg.client, reg.presence, true
}

// Lookup returns the presence announced on connId.
func (r *Registry) Lookup(connId string) (types.Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.entries[connId]
	if !ok {
		return types.Presence{}, false
	}
	return reg.presence, true
}

// Unregister removes and returns the presence for connId.
func (r *Registry) Unregister(connId string) (types.Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.entries[connId]
	if !ok {
		return types.Presence{}, false
	}

	delete(r.entries, connId)
	r.dropFromUserLocked(reg.presence.UserId, connId)

	return reg.presence, true
}

// Clients returns a snapshot of every registered connection.
func (r *Registry) Clients() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := make([]*Client, 0, len(r.entries))
	for _, reg := range r.entries {
		clients = append(clients, reg.client)
	}
	return clients
}

// Presences returns the presence list ordered by registration.
func (r *Registry) Presences() []types.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.presencesLocked()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

func (r *Registry) presencesLocked() []types.Presence {
	regs := make([]*registration, 0, len(r.entries))
	for _, reg := range r.entries {
		regs = append(regs, reg)
	}
	slices.SortFunc(regs, func(a, b *registration) int {
		return cmp.Compare(a.seq, b.seq)
	})

	presences := make([]types.Presence, len(regs))
	for i, reg := range regs {
		presences[i] = reg.presence
	}
	return presences
}

func (r *Registry) dropFromUserLocked(userId, connId string) {
	conns := slices.DeleteFunc(r.byUser[userId], func(id string) bool {
		return id == connId
	})
	if len(conns) == 0 {
		delete(r.byUser, userId)
		return
	}
	r.byUser[userId] = conns
}
