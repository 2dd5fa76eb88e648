package registry

import (
	"encoding/json"
	"net/http"
)

// Server handles registry-related HTTP requests.
type Server struct {
	store *Store
}

// NewServer creates a new registry server.
func NewServer(store *Store) *Server {
	return &Server{
		store: store,
	}
}

// HandleList returns the open connections.
// GET /api/connections
func (s *Server) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.store.List())
}
