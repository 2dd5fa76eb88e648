package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Connection represents one open producer connection.
type Connection struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Transport   string    `json:"transport"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Accepted    int64     `json:"accepted"`
	Rejected    int64     `json:"rejected"`
}

// Store tracks open connections.
type Store struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewStore creates a new registry store.
func NewStore() *Store {
	return &Store{
		conns: make(map[string]*Connection),
	}
}

// Register adds a connection. ConnectedAt defaults to now.
func (s *Store) Register(conn Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = now
	}
	conn.LastSeenAt = now
	s.conns[conn.ID] = &conn
}

// Remove forgets a connection.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// Get retrieves a connection by ID.
func (s *Store) Get(id string) (Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// List returns all connections, oldest first.
func (s *Store) List() []Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]Connection, 0, len(s.conns))
	for _, conn := range s.conns {
		list = append(list, *conn)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ConnectedAt.Before(list[j].ConnectedAt)
	})
	return list
}

// Len returns the number of tracked connections.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// RecordMessage counts one handled message and refreshes LastSeenAt.
func (s *Store) RecordMessage(id string, accepted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return
	}
	conn.LastSeenAt = time.Now()
	if accepted {
		conn.Accepted++
	} else {
		conn.Rejected++
	}
}

// KeepAlive updates LastSeenAt, e.g. on a pong.
func (s *Store) KeepAlive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.conns[id]; ok {
		conn.LastSeenAt = time.Now()
	}
}

// PruneStale removes connections that haven't been seen for timeout.
func (s *Store) PruneStale(timeout time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-timeout)
	count := 0
	for id, conn := range s.conns {
		if conn.LastSeenAt.Before(cutoff) {
			delete(s.conns, id)
			count++
		}
	}
	return count
}

// StartCleanupLoop starts a background goroutine to prune stale connections.
func (s *Store) StartCleanupLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.PruneStale(timeout)
			case <-ctx.Done():
				return
			}
		}
	}()
}
