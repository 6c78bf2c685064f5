// Package progress delivers job progress events to every live connection
// a user holds, and carries them between the worker and the gateway when
// the two run as separate processes.
package progress

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ndquangr/txingest/internal/domain"
)

// Conn is one live subscriber connection. Send must be safe to call from
// the publishing goroutine; a non-nil error marks the connection dead and
// it is pruned during the publish.
type Conn interface {
	Send(data []byte) error
}

// userConns is one user's connection set. Its mutex serializes
// subscribe, unsubscribe and publish for that user only, so traffic for
// different users never contends.
type userConns struct {
	mu    sync.Mutex
	conns []Conn
}

// Manager is the process-wide fan-out registry, keyed by user id.
// Construct one per process and pass it to whatever needs to subscribe
// or publish.
type Manager struct {
	logger *slog.Logger

	mu    sync.RWMutex
	users map[string]*userConns
}

// NewManager creates an empty fan-out manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		users:  make(map[string]*userConns),
	}
}

// Subscribe registers a connection for a user. The connection is live
// immediately: the next publish for the user reaches it.
//
// The registry lock is held across both the lookup and the append, so a
// concurrent prune of the same entry cannot slip in between and orphan
// the fresh connection.
func (m *Manager) Subscribe(userID string, conn Conn) {
	m.mu.Lock()
	entry, ok := m.users[userID]
	if !ok {
		entry = &userConns{}
		m.users[userID] = entry
	}
	entry.mu.Lock()
	entry.conns = append(entry.conns, conn)
	total := len(entry.conns)
	entry.mu.Unlock()
	m.mu.Unlock()

	m.logger.Info("Progress subscriber connected",
		slog.String("user_id", userID),
		slog.Int("connections", total),
	)
}

// Unsubscribe removes a connection. A publish in flight for the same user
// finishes first; the connection receives nothing afterwards. The user's
// entry is pruned when its set empties.
func (m *Manager) Unsubscribe(userID string, conn Conn) {
	m.mu.RLock()
	entry, ok := m.users[userID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	entry.conns = removeConn(entry.conns, conn)
	empty := len(entry.conns) == 0
	entry.mu.Unlock()

	if empty {
		m.pruneIfEmpty(userID, entry)
	}

	m.logger.Info("Progress subscriber disconnected",
		slog.String("user_id", userID),
	)
}

// Publish serializes the event once and delivers it to every connection
// the user holds, in subscription order. Connections whose Send fails are
// dropped as part of this call; membership heals itself without a
// separate health check.
func (m *Manager) Publish(userID string, event domain.ProgressEvent) error {
	m.mu.RLock()
	entry, ok := m.users[userID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	entry.mu.Lock()
	var live []Conn
	for _, conn := range entry.conns {
		if sendErr := conn.Send(payload); sendErr != nil {
			m.logger.Warn("Dropping dead progress connection",
				slog.String("user_id", userID),
				slog.String("error", sendErr.Error()),
			)
			continue
		}
		live = append(live, conn)
	}
	entry.conns = live
	empty := len(entry.conns) == 0
	entry.mu.Unlock()

	if empty {
		m.pruneIfEmpty(userID, entry)
	}
	return nil
}

// ConnectionCount reports the number of live connections for a user.
func (m *Manager) ConnectionCount(userID string) int {
	m.mu.RLock()
	entry, ok := m.users[userID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.conns)
}

// pruneIfEmpty removes the user's registry entry unless a concurrent
// subscribe repopulated it.
func (m *Manager) pruneIfEmpty(userID string, entry *userConns) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.users[userID]
	if !ok || current != entry {
		return
	}
	entry.mu.Lock()
	empty := len(entry.conns) == 0
	entry.mu.Unlock()
	if empty {
		delete(m.users, userID)
	}
}

func removeConn(conns []Conn, target Conn) []Conn {
	for i, conn := range conns {
		if conn == target {
			return append(conns[:i], conns[i+1:]...)
		}
	}
	return conns
}
