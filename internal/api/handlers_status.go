package api

import (
	"log"
	"net/http"

	"github.com/jordanhubbard/beadhub/internal/events"
	"github.com/jordanhubbard/beadhub/internal/httperr"
	"github.com/jordanhubbard/beadhub/internal/metrics"
	"github.com/jordanhubbard/beadhub/internal/sse"
	"github.com/jordanhubbard/beadhub/internal/status"
	"github.com/jordanhubbard/beadhub/internal/validate"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondError(w, err)
		return
	}
	q := r.URL.Query()
	workspaceID := q.Get("workspace_id")
	if workspaceID != "" {
		workspaceID, err = validate.WorkspaceID(workspaceID)
		if err != nil {
			s.respondError(w, httperr.Validation("%s", err.Error()))
			return
		}
	}

	snapshot, err := s.status.Get(r.Context(), status.Params{
		ProjectID:    id.ProjectID,
		WorkspaceID:  workspaceID,
		RepoID:       q.Get("repo_id"),
		Limit:        limit,
		PublicReader: id.PublicReader,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snapshot)
}

// handleStatusStream serves the project event feed as SSE. One stream
// subscribes to every live workspace channel in the project.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := s.identity(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, httperr.New(http.StatusInternalServerError, "streaming unsupported"))
		return
	}

	workspaceIDs, err := s.registry.LiveWorkspaceIDs(r.Context(), id.ProjectID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	categories := sse.ParseCategories(r.URL.Query().Get("categories"))
	if id.PublicReader {
		// Public dashboards only see bead activity.
		categories = map[events.Category]bool{events.CategoryBead: true}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	m := metrics.NewMetrics()
	m.SSEStreams.Inc()
	defer m.SSEStreams.Dec()

	err = sse.Stream(r.Context(), s.rdb, sse.Options{
		WorkspaceIDs: workspaceIDs,
		Categories:   categories,
	}, func(frame string) error {
		if _, err := w.Write([]byte(frame)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		log.Printf("[SSE] stream for project %s ended with error: %v", id.ProjectID, err)
	}
}
