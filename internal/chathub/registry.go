package chathub

import "sync"

// Registry maps a user to their single live connection.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register makes c the user's connection and returns the one it replaced, if any.
// The caller closes the replaced client.
func (r *Registry) Register(c Client) Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := c.GetUserID()
	old := r.clients[userID]
	r.clients[userID] = c
	if old == c {
		return nil
	}
	return old
}

// Unregister removes c only if it is still the user's current connection.
func (r *Registry) Unregister(c Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := c.GetUserID()
	if r.clients[userID] != c {
		return false
	}
	delete(r.clients, userID)
	return true
}

func (r *Registry) Get(userID string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[userID]
	return c, ok
}

// IsCurrent reports whether c is the registered connection of its user.
func (r *Registry) IsCurrent(c Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[c.GetUserID()] == c
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Drain removes and returns every registered client.
func (r *Registry) Drain() []Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Client, 0, len(r.clients))
	for id, c := range r.clients {
		out = append(out, c)
		delete(r.clients, id)
	}
	return out
}
