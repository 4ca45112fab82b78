package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/zeusync/behaviortree/internal/core/bt"
	"github.com/zeusync/behaviortree/internal/core/observability/log"
)

// Handler returns the routes of the inspector, behind the token check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/kinds", s.handleKinds)
	mux.HandleFunc("GET /api/trees", s.handleTrees)
	mux.HandleFunc("GET /api/trees/{name}", s.handleTree)
	mux.HandleFunc("GET /api/trees/{name}/nodes/{id}/descendants", s.handleDescendants)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return s.authMiddleware(mux)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", log.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.GetStats())
}

func (s *Server) handleKinds(w http.ResponseWriter, r *http.Request) {
	if term := r.URL.Query().Get("search"); term != "" {
		s.writeJSON(w, http.StatusOK, s.reg.Search(term))
		return
	}
	s.writeJSON(w, http.StatusOK, s.reg.Menu())
}

// TreeSummary is one row of the tree list.
type TreeSummary struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Root        bt.NodeID `json:"root"`
	Nodes       int       `json:"nodes"`
	Fingerprint string    `json:"fingerprint"`
	Loaded      time.Time `json:"loaded"`
}

func (s *Server) handleTrees(w http.ResponseWriter, _ *http.Request) {
	out := make([]TreeSummary, 0)
	if s.lib != nil {
		for _, name := range s.lib.Names() {
			e, ok := s.lib.Entry(name)
			if !ok {
				continue
			}
			out = append(out, TreeSummary{
				Name:        e.Name,
				Path:        e.Path,
				Root:        e.Tree.RootID(),
				Nodes:       e.Tree.Len(),
				Fingerprint: strconv.FormatUint(e.Fingerprint, 16),
				Loaded:      e.Loaded,
			})
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) tree(w http.ResponseWriter, r *http.Request) (*bt.Tree, bool) {
	if s.lib != nil {
		if t, ok := s.lib.Get(r.PathValue("name")); ok {
			return t, true
		}
	}
	s.writeError(w, http.StatusNotFound, ErrTreeNotFound)
	return nil, false
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tree(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, t.Asset())
}

// NodeSummary describes one node below the requested one.
type NodeSummary struct {
	ID       bt.NodeID `json:"id"`
	Kind     string    `json:"kind"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	Depth    int       `json:"depth"`
}

func (s *Server) handleDescendants(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tree(w, r)
	if !ok {
		return
	}
	out := make([]NodeSummary, 0)
	err := t.Traverse(bt.NodeID(r.PathValue("id")), func(n bt.Node, depth int) bool {
		if depth > 0 {
			out = append(out, NodeSummary{
				ID:       n.ID(),
				Kind:     n.Kind(),
				Title:    n.Title(),
				Category: n.Category().String(),
				Depth:    depth,
			})
		}
		return true
	})
	if errors.Is(err, bt.ErrUnknownNode) {
		s.writeError(w, http.StatusNotFound, ErrNodeNotFound)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}
