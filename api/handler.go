// Package api exposes comp search, listing photos and RETS metadata over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"rentcomps/config"
	"rentcomps/models"
	"rentcomps/rets"
	"rentcomps/services"
	"rentcomps/storage"
	"rentcomps/utils"
)

const maxBodyBytes = 1 << 20

// CompFinder runs a ranked comp search.
type CompFinder interface {
	FindComps(ctx context.Context, subject *models.Subject, criteria models.SearchCriteria) (*models.CompResult, error)
}

// PhotoSource returns one listing photo, or nil when there is none.
type PhotoSource interface {
	Fetch(ctx context.Context, listingID string, index int) (*rets.Object, error)
}

// MetadataSource returns the raw metadata document for a type and id.
type MetadataSource interface {
	GetMetadata(ctx context.Context, metaType, id string) (string, error)
}

// Deps are the collaborators a Handler serves from. Archive is optional.
// When ConfigErr is set the MLS endpoints answer 500 without calling out.
type Deps struct {
	Comps     CompFinder
	Photos    PhotoSource
	Metadata  MetadataSource
	Archive   storage.CompArchive
	ConfigErr error
	Logger    *utils.Logger
}

type Handler struct {
	deps Deps
	log  *utils.Logger
}

func NewHandler(deps Deps) *Handler {
	log := deps.Logger
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &Handler{deps: deps, log: log}
}

// SearchRequest is the body of POST /api/search. Criteria fields left out
// of the body keep their default values.
type SearchRequest struct {
	Subject  *models.Subject        `json:"subject"`
	Criteria *models.SearchCriteria `json:"criteria,omitempty"`
}

// Routes registers every endpoint on a new mux. metrics may be nil.
func (h *Handler) Routes(metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("POST /api/search", h.Search)
	mux.HandleFunc("GET /api/searches/{id}", h.GetSearch)
	mux.HandleFunc("GET /api/photos/{id}", h.Photo)
	mux.HandleFunc("GET /api/rets-metadata", h.Metadata)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Search handles POST /api/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	defaults := models.DefaultCriteria()
	req := SearchRequest{Criteria: &defaults}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON body")
		return
	}
	if req.Subject == nil {
		JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "subject is required")
		return
	}
	if h.unconfigured(w) {
		return
	}

	criteria := models.DefaultCriteria()
	if req.Criteria != nil {
		criteria = *req.Criteria
	}

	res, err := h.deps.Comps.FindComps(r.Context(), req.Subject, criteria)
	if err != nil {
		h.fail(w, "search", err)
		return
	}

	if h.deps.Archive != nil {
		if _, err := h.deps.Archive.Write(r.Context(), res); err != nil {
			h.log.Warn("[api] Archiving comp search failed: %v", err)
		}
	}
	JSONSuccess(w, res)
}

// GetSearch handles GET /api/searches/{id}.
func (h *Handler) GetSearch(w http.ResponseWriter, r *http.Request) {
	if h.deps.Archive == nil {
		JSONError(w, http.StatusNotFound, "NOT_FOUND", "Search archive is disabled")
		return
	}
	run, err := h.deps.Archive.FetchRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrRunNotFound) {
		JSONError(w, http.StatusNotFound, "NOT_FOUND", "Search not found")
		return
	}
	if err != nil {
		h.log.Error("[api] Fetching archived search %s: %v", r.PathValue("id"), err)
		JSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	JSONSuccess(w, run)
}

// Photo handles GET /api/photos/{id}?idx=n. The index defaults to 0, the
// preferred photo.
func (h *Handler) Photo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "listing id is required")
		return
	}
	idx := 0
	if raw := r.URL.Query().Get("idx"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "idx must be a non-negative integer")
			return
		}
		idx = n
	}
	if h.unconfigured(w) {
		return
	}

	obj, err := h.deps.Photos.Fetch(r.Context(), id, idx)
	if err != nil {
		h.fail(w, "photo", err)
		return
	}
	if obj == nil {
		JSONError(w, http.StatusNotFound, "NOT_FOUND", "Photo not found")
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

// Metadata handles GET /api/rets-metadata?type=&id=.
func (h *Handler) Metadata(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	metaType := q.Get("type")
	if metaType == "" {
		metaType = "METADATA-CLASS"
	}
	id := q.Get("id")
	if id == "" {
		id = "Property"
	}
	if h.unconfigured(w) {
		return
	}

	body, err := h.deps.Metadata.GetMetadata(r.Context(), metaType, id)
	if err != nil {
		h.fail(w, "metadata", err)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (h *Handler) unconfigured(w http.ResponseWriter) bool {
	if h.deps.ConfigErr == nil {
		return false
	}
	h.log.Error("[api] %v", h.deps.ConfigErr)
	JSONError(w, http.StatusInternalServerError, "CONFIG_ERROR", "MLS connection is not configured")
	return true
}

// fail maps an operation error to a response. Configuration problems are
// 500s; everything upstream of us is a 502 with a generic message.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, services.ErrEmptySubject):
		JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case config.IsConfigurationError(err):
		h.log.Error("[api] %s: %v", op, err)
		JSONError(w, http.StatusInternalServerError, "CONFIG_ERROR", "MLS connection is not configured")
	default:
		h.log.Error("[api] %s failed: %v", op, err)
		JSONError(w, http.StatusBadGateway, "UPSTREAM_ERROR", op+" failed")
	}
}
