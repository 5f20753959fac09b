package hub

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// maxIDAttempts bounds how many colliding ids Register tolerates before giving up.
const maxIDAttempts = 64

// Channel is the hub's handle on one client transport. Send must not block:
// it either queues the payload or reports why it could not. Implementations
// must be comparable (typically a pointer); the hub matches transport events
// to registrations by channel identity.
type Channel interface {
	Send(payload []byte) error
	Close()
}

// Connection is the hub's record of one open channel.
type Connection struct {
	ID      string
	Channel Channel
}

// IDGenerator produces candidate connection ids.
type IDGenerator func() string

// TimestampID joins the current unix time in milliseconds with a random suffix.
func TimestampID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixMilli(), rand.IntN(1000))
}

// Registry maps connection ids to open channels. Like ThemeState it is only
// touched from the dispatch loop and carries no lock.
type Registry struct {
	conns map[string]Connection
	order []string
	newID IDGenerator
}

// NewRegistry creates an empty registry. A nil generator selects TimestampID.
func NewRegistry(gen IDGenerator) *Registry {
	if gen == nil {
		gen = TimestampID
	}
	return &Registry{
		conns: make(map[string]Connection),
		newID: gen,
	}
}

// Register stores ch under a fresh id and returns it. Candidate ids already in
// use are discarded and regenerated.
func (r *Registry) Register(ch Channel) (string, error) {
	for range maxIDAttempts {
		id := r.newID()
		if _, taken := r.conns[id]; taken {
			continue
		}
		r.conns[id] = Connection{ID: id, Channel: ch}
		r.order = append(r.order, id)
		return id, nil
	}
	return "", fmt.Errorf("register after %d attempts: %w", maxIDAttempts, ErrIDSpaceExhausted)
}

// Unregister removes id and returns the connection it held. Removing an
// unknown id reports false and changes nothing.
func (r *Registry) Unregister(id string) (Connection, bool) {
	conn, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	delete(r.conns, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return conn, true
}

// Lookup returns the connection registered under id.
func (r *Registry) Lookup(id string) (Connection, bool) {
	conn, ok := r.conns[id]
	return conn, ok
}

// Len reports how many connections are registered.
func (r *Registry) Len() int {
	return len(r.conns)
}

// Snapshot returns a copy of the live connections in registration order.
func (r *Registry) Snapshot() []Connection {
	out := make([]Connection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.conns[id])
	}
	return out
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	return append(make([]string, 0, len(r.order)), r.order...)
}
