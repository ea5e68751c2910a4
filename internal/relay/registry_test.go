package relay

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	c1 := newTestClient(t, "1")
	c2 := newTestClient(t, "2")

	list, _, replaced := r.Register(c1, types.User{Id: "u1", Username: "alice"})
	assert.False(t, replaced, "expected first announce not to replace anything")
	assert.Equal(t, []types.Presence{{ConnectionId: "1", UserId: "u1", Username: "alice"}}, list)

	list, _, _ = r.Register(c2, types.User{Id: "u2", Username: "bob"})
	assert.Len(t, list, 2, "expected two presences")
	assert.Equal(t, "1", list[0].ConnectionId, "expected presences in registration order")
	assert.Equal(t, "2", list[1].ConnectionId, "expected presences in registration order")

	t.Run("re-announce replaces identity", func(t *testing.T) {
		list, prev, replaced := r.Register(c1, types.User{Id: "u3", Username: "carol"})
		assert.Len(t, list, 2, "expected re-announce to keep a single entry for the connection")
		assert.True(t, replaced)
		assert.Equal(t, types.Presence{ConnectionId: "1", UserId: "u1", Username: "alice"}, prev)

		_, _, ok := r.Resolve("u1")
		assert.False(t, ok, "expected old identity to no longer resolve")

		got, p, ok := r.Resolve("u3")
		assert.True(t, ok)
		assert.Equal(t, c1, got)
		assert.Equal(t, "carol", p.Username)
	})
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	first := newTestClient(t, "1")
	second := newTestClient(t, "2")

	_, _, ok := r.Resolve("u1")
	assert.False(t, ok, "expected unknown user not to resolve")

	r.Register(first, types.User{Id: "u1", Username: "alice"})
	r.Register(second, types.User{Id: "u1", Username: "alice"})

	got, _, ok := r.Resolve("u1")
	assert.True(t, ok)
	assert.Equal(t, second, got, "expected most recently registered connection")

	r.Unregister(second.id)
	got, _, ok = r.Resolve("u1")
	assert.True(t, ok)
	assert.Equal(t, first, got, "expected remaining connection after unregister")

	r.Unregister(first.id)
	_, _, ok = r.Resolve("u1")
	assert.False(t, ok, "expected no connection once all are unregistered")
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	c := newTestClient(t, "1")

	_, ok := r.Unregister("1")
	assert.False(t, ok, "expected unregister of unknown connection to report false")

	r.Register(c, types.User{Id: "u1", Username: "alice"})
	p, ok := r.Unregister("1")
	assert.True(t, ok)
	assert.Equal(t, types.Presence{ConnectionId: "1", UserId: "u1", Username: "alice"}, p)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Presences())
}

func TestRegistry_RandomSequence(t *testing.T) {
	r := NewRegistry()
	rnd := rand.New(rand.NewSource(42))

	clients := make([]*Client, 8)
	for i := range clients {
		clients[i] = newTestClient(t, fmt.Sprint(i))
	}
	users := []string{"u1", "u2", "u3"}

	for i := 0; i < 500; i++ {
		c := clients[rnd.Intn(len(clients))]
		if rnd.Intn(3) == 0 {
			r.Unregister(c.id)
		} else {
			u := users[rnd.Intn(len(users))]
			r.Register(c, types.User{Id: u, Username: u})
		}

		seen := make(map[string]bool)
		for _, p := range r.Presences() {
			assert.False(t, seen[p.ConnectionId], "expected at most one presence for connection %s", p.ConnectionId)
			seen[p.ConnectionId] = true
		}

		for _, u := range users {
			got, p, ok := r.Resolve(u)
			if !ok {
				continue
			}
			current, registered := r.Lookup(got.id)
			assert.True(t, registered, "expected resolved connection %s to be registered", got.id)
			assert.Equal(t, u, current.UserId, "expected resolved connection to belong to %s", u)
			assert.Equal(t, p, current)
		}
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	users := []string{"u1", "u2", "u3"}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(int64(w)))
			c := newTestClient(t, fmt.Sprint(w))

			for i := 0; i < 200; i++ {
				u := users[rnd.Intn(len(users))]
				switch rnd.Intn(3) {
				case 0:
					r.Unregister(c.id)
				case 1:
					r.Register(c, types.User{Id: u, Username: u})
				default:
					if got, p, ok := r.Resolve(u); ok {
						assert.Equal(t, got.id, p.ConnectionId)
					}
				}
				r.Presences()
			}
			r.Unregister(c.id)
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len(), "expected every connection to be unregistered")
	assert.Empty(t, r.byUser, "expected the user index to be empty")
	for _, u := range users {
		_, _, ok := r.Resolve(u)
		assert.False(t, ok)
	}
}
