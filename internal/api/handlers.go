package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fxf-vault/internal/diff"
	"github.com/fxf-vault/internal/store"
	"github.com/go-chi/chi/v5"
)

// APIError represents an error response
type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// FixletDiffResponse pairs the two compared revisions with their field diff
type FixletDiffResponse struct {
	Old  *store.FixletRevision `json:"old"`
	New  *store.FixletRevision `json:"new"`
	Diff *diff.FixletDiff      `json:"diff"`
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", slog.Any("err", err))
		}
	}
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, APIError{Error: http.StatusText(status), Message: message})
}

// idParam parses a numeric path parameter, answering 400 when it is not one
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name))
		return 0, false
	}
	return id, true
}

// handleHealth returns the health status of the service
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// handleListSites returns all sites
func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListSites(r.Context())
	if err != nil {
		slog.Error("failed to list sites", slog.Any("err", err))
		respondError(w, http.StatusInternalServerError, "Failed to list sites")
		return
	}

	if sites == nil {
		sites = []store.Site{}
	}

	respondJSON(w, http.StatusOK, sites)
}

// site resolves the siteID parameter, answering 400/404/500 itself
func (s *Server) site(w http.ResponseWriter, r *http.Request) (*store.Site, bool) {
	siteID, ok := idParam(w, r, "siteID")
	if !ok {
		return nil, false
	}

	site, err := s.store.GetSite(r.Context(), siteID)
	if err != nil {
		slog.Error("failed to get site", slog.Int64("site_id", siteID), slog.Any("err", err))
		respondError(w, http.StatusInternalServerError, "Failed to get site")
		return nil, false
	}
	if site == nil {
		respondError(w, http.StatusNotFound, "Site not found")
		return nil, false
	}

	return site, true
}

// handleListBundles returns the bundles of a site
func (s *Server) handleListBundles(w http.ResponseWriter, r *http.Request) {
	site, ok := s.site(w, r)
	if !ok {
		return
	}

	bundles, err := s.store.ListBundles(r.Context(), site.ID)
	if err != nil {
		slog.Error("failed to list bundles", slog.String("site", site.Name), slog.Any("err", err))
		respondError(w, http.StatusInternalServerError, "Failed to list bundles")
		return
	}

	if bundles == nil {
		bundles = []store.Bundle{}
	}

	respondJSON(w, http.StatusOK, bundles)
}

// handleListFixlets returns the current revision of each fixlet of a site
func (s *Server) handleListFixlets(w http.ResponseWriter, r *http.Request) {
	site, ok := s.site(w, r)
	if !ok {
		return
	}

	fixlets, err := s.store.ListFixlets(r.Context(), site.ID)
	if err != nil {
		slog.Error("failed to list fixlets", slog.String("site", site.Name), slog.Any("err", err))
		respondError(w, http.StatusInternalServerError, "Failed to list fixlets")
		return
	}

	if fixlets == nil {
		fixlets = []store.FixletSummary{}
	}

	respondJSON(w, http.StatusOK, fixlets)
}

// handleListFixletRevisions returns the revisions of one fixlet
func (s *Server) handleListFixletRevisions(w http.ResponseWriter, r *http.Request) {
	site, ok := s.site(w, r)
	if !ok {
		return
	}

	fixletID, err := strconv.Atoi(chi.URLParam(r, "fixletID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid fixletID")
		return
	}

	revisions, err := s.store.ListFixletRevisions(r.Context(), site.ID, fixletID)
	if err != nil {
		slog.Error("failed to list fixlet revisions",
			slog.String("site", site.Name), slog.Int("fixlet_id", fixletID), slog.Any("err", err))
		respondError(w, http.StatusInternalServerError, "Failed to list fixlet revisions")
		return
	}

	if len(revisions) == 0 {
		respondError(w, http.StatusNotFound, "Fixlet not found")
		return
	}

	respondJSON(w, http.StatusOK, revisions)
}

// handleListBundleRevisions returns the revisions of a bundle
func (s *Server) handleListBundleRevisions(w http.ResponseWriter, r *http.Request) {
	bundleID, ok := idParam(w, r, "bundleID")
	if !ok {
		return
	}

	revisions, err := s.store.ListBundleRevisions(r.Context(), bundleID)
	if err != nil {
		slog.Error("failed to list bundle revisions", slog.Int64("bundle_id", bundleID), slog.Any("err", err))
		respondError(w, http.StatusInternalServerError, "Failed to list bundle revisions")
		return
	}

	if revisions == nil {
		revisions = []store.BundleRevision{}
	}

	respondJSON(w, http.StatusOK, revisions)
}

// bundleRevision loads the revision named by parameter, answering errors itself
func (s *Server) bundleRevision(w http.ResponseWriter, r *http.Request, param string) (*store.BundleRevisionWithContent, bool) {
	id, ok := idParam(w, r, param)
	if !ok {
		return nil, false
	}

	rev, err := s.store.GetBundleRevision(r.Context(), id)
	if err != nil {
		slog.Error("failed to get bundle revision", slog.Int64("id", id), slog.Any("err", err))
		respondError(w, http.StatusInternalServerError, "Failed to get bundle revision")
		return nil, false
	}
	if rev == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("Bundle revision %d not found", id))
		return nil, false
	}

	return rev, true
}

// handleGetBundleRevision returns a bundle revision with its content
func (s *Server) handleGetBundleRevision(w http.ResponseWriter, r *http.Request) {
	rev, ok := s.bundleRevision(w, r, "id")
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, rev)
}

// handleBundleDiff returns a line diff between two revisions of one bundle
func (s *Server) handleBundleDiff(w http.ResponseWriter, r *http.Request) {
	rev1, ok := s.bundleRevision(w, r, "v1")
	if !ok {
		return
	}
	rev2, ok := s.bundleRevision(w, r, "v2")
	if !ok {
		return
	}

	if rev1.BundleID != rev2.BundleID {
		respondError(w, http.StatusBadRequest, "Revisions belong to different bundles")
		return
	}

	result := diff.CompareVersions(
		rev1.Content,
		rev2.Content,
		fmt.Sprintf("v%d", rev1.Version),
		fmt.Sprintf("v%d", rev2.Version),
	)

	respondJSON(w, http.StatusOK, result)
}

// fixletRevision loads the revision named by parameter, answering errors itself
func (s *Server) fixletRevision(w http.ResponseWriter, r *http.Request, param string) (*store.FixletRevision, bool) {
	id, ok := idParam(w, r, param)
	if !ok {
		return nil, false
	}

	rev, err := s.store.GetFixletRevision(r.Context(), id)
	if err != nil {
		slog.Error("failed to get fixlet revision", slog.Int64("id", id), slog.Any("err", err))
		respondError(w, http.StatusInternalServerError, "Failed to get fixlet revision")
		return nil, false
	}
	if rev == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("Fixlet revision %d not found", id))
		return nil, false
	}

	return rev, true
}

// handleGetFixletRevision returns a fixlet revision with its content
func (s *Server) handleGetFixletRevision(w http.ResponseWriter, r *http.Request) {
	rev, ok := s.fixletRevision(w, r, "id")
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, rev)
}

// handleFixletDiff returns a field diff between two revisions of one fixlet
func (s *Server) handleFixletDiff(w http.ResponseWriter, r *http.Request) {
	rev1, ok := s.fixletRevision(w, r, "v1")
	if !ok {
		return
	}
	rev2, ok := s.fixletRevision(w, r, "v2")
	if !ok {
		return
	}

	if rev1.SiteID != rev2.SiteID || rev1.FixletID != rev2.FixletID {
		respondError(w, http.StatusBadRequest, "Revisions belong to different fixlets")
		return
	}

	result, err := diff.CompareFixlets(rev1.Content, rev2.Content)
	if err != nil {
		slog.Warn("failed to diff fixlet revisions",
			slog.Int64("old", rev1.ID), slog.Int64("new", rev2.ID), slog.Any("err", err))
		respondError(w, http.StatusUnprocessableEntity, "Failed to decode fixlet content")
		return
	}

	respondJSON(w, http.StatusOK, FixletDiffResponse{Old: rev1, New: rev2, Diff: result})
}
