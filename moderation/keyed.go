// Package moderation holds the chat analyzers: spam window, profanity filter,
// warning levels and censorship strikes. All state is keyed by (lobby, user),
// lives in memory and may be dropped at any time.
package moderation

import "sync"

type key struct {
	lobby string
	user  string
}

type counter struct {
	mutex sync.Mutex
	n     int
}

// counters is a concurrent map of independent per-key counters: the map lock
// only guards get-or-create, each counter has its own lock.
type counters struct {
	mutex sync.RWMutex
	items map[key]*counter
}

func newCounters() *counters {
	return &counters{items: make(map[key]*counter)}
}

func (c *counters) get(lobby, user string) *counter {
	k := key{lobby: lobby, user: user}

	c.mutex.RLock()
	item, ok := c.items[k]
	c.mutex.RUnlock()
	if ok {
		return item
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if item, ok = c.items[k]; ok {
		return item
	}
	item = &counter{}
	c.items[k] = item
	return item
}

func (c *counters) value(lobby, user string) int {
	item := c.get(lobby, user)
	item.mutex.Lock()
	defer item.mutex.Unlock()
	return item.n
}

func (c *counters) forgetLobby(lobby string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for k := range c.items {
		if k.lobby == lobby {
			delete(c.items, k)
		}
	}
}
