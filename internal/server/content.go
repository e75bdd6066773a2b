package server

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"InterviewPrep/internal/content"
)

const (
	minSearchQuery = 2
	maxSearchHits  = 50
)

// Library is the indexed study content served read-only
type Library interface {
	Sections() []content.Section
	Items(section string) []content.Item
	Item(id string) (content.Item, bool)
	Search(query string, limit int) []content.Item
	Stats() content.Stats
}

func (s *Server) handleListSections(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.library.Sections())
}

func (s *Server) handleSectionItems(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	items := s.library.Items(key)
	if len(items) == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("Section '%s' not found or empty", key))
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, ok := s.library.Item(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("Item '%s' not found", id))
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleSearchContent(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if utf8.RuneCountInString(q) < minSearchQuery {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("query must be at least %d characters", minSearchQuery))
		return
	}
	hits := s.library.Search(q, maxSearchHits)
	if hits == nil {
		hits = []content.Item{}
	}
	respondJSON(w, http.StatusOK, hits)
}

func (s *Server) handleContentStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.library.Stats())
}
