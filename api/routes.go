package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"ClaimSync/internal/metadata"
	"ClaimSync/internal/models"
	"ClaimSync/internal/tracker"
)

type Importer interface {
	ImportFile(ctx context.Context, path string, mode tracker.Mode) (*models.ImportJob, error)
}

type JobStore interface {
	GetJob(ctx context.Context, filename string) (*models.ImportJob, error)
	ListJobs(ctx context.Context, limit int) ([]*models.ImportJob, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type handlers struct {
	importer Importer
	jobs     JobStore
	db       Pinger
	inbox    string
}

// NewRouter wires the status and trigger endpoints. Imports are restricted
// to files under inbox.
func NewRouter(imp Importer, jobs JobStore, db Pinger, inbox string) *mux.Router {
	h := &handlers{importer: imp, jobs: jobs, db: db, inbox: inbox}

	router := mux.NewRouter()
	router.HandleFunc("/api/health", h.health).Methods(http.MethodGet)
	router.HandleFunc("/api/jobs", h.listJobs).Methods(http.MethodGet)
	router.HandleFunc("/api/jobs/{filename}", h.getJob).Methods(http.MethodGet)
	router.HandleFunc("/api/imports", h.importFile).Methods(http.MethodPost)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondWithError(w, http.StatusNotFound, "route not found: "+r.URL.Path)
	})
	return router
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			RespondWithError(w, http.StatusServiceUnavailable, "database unavailable: "+err.Error())
			return
		}
	}
	RespondWithPayload(w, http.StatusOK, "", map[string]string{"status": "ok"})
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			RespondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	jobs, err := h.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondWithPayload(w, http.StatusOK, "", jobs)
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	job, err := h.jobs.GetJob(r.Context(), filename)
	if errors.Is(err, models.ErrJobNotFound) {
		RespondWithError(w, http.StatusNotFound, "no import job for "+filename)
		return
	}
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondWithPayload(w, http.StatusOK, "", job)
}

type importRequest struct {
	Path string `json:"path"`
}

func (h *handlers) importFile(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		RespondWithError(w, http.StatusBadRequest, `body must be {"path": "..."}`)
		return
	}
	path, ok := h.resolve(req.Path)
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "path must be inside the inbox")
		return
	}
	if _, err := os.Stat(path); err != nil {
		RespondWithError(w, http.StatusNotFound, "file not found: "+req.Path)
		return
	}

	job, err := h.importer.ImportFile(r.Context(), path, tracker.ModeExplicit)
	var parseErr *metadata.ParseError
	switch {
	case errors.As(err, &parseErr):
		RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracker.ErrJobInProgress):
		RespondWithError(w, http.StatusConflict, err.Error())
	case err != nil && job == nil:
		RespondWithError(w, http.StatusInternalServerError, err.Error())
	case err != nil:
		RespondWithPayload(w, http.StatusUnprocessableEntity, err.Error(), job)
	default:
		RespondWithPayload(w, http.StatusOK, "", job)
	}
}

func (h *handlers) resolve(p string) (string, bool) {
	inbox, err := filepath.Abs(h.inbox)
	if err != nil {
		return "", false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(inbox, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(inbox, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return p, true
}
