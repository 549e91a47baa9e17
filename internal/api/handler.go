package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/repochat/internal/chat"
	"github.com/seanblong/repochat/internal/project"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

const (
	maxBodyBytes   = 1 << 20
	projectTimeout = 10 * time.Second
	chatTimeout    = 90 * time.Second
)

// Projects registers and looks up projects.
type Projects interface {
	AddProject(ctx context.Context, repoURL, token string) (project.AddResult, error)
	GetProject(ctx context.Context, id string) (models.Project, error)
}

// Answerer answers questions about an ingested project.
type Answerer interface {
	Answer(ctx context.Context, projectID, question string) (chat.Result, error)
}

type addProjectRequest struct {
	RepoURL     string `json:"repoUrl"`
	GithubToken string `json:"githubToken"`
}

type chatRequest struct {
	ProjectID string `json:"projectId"`
	Question  string `json:"question"`
}

type chatResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

type existingResponse struct {
	Message string         `json:"message"`
	Data    models.Project `json:"data"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the public HTTP API.
type Handler struct {
	Projects Projects
	Chat     Answerer
}

func NewHandler(projects Projects, chat Answerer) *Handler {
	return &Handler{Projects: projects, Chat: chat}
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /projects", h.addProject)
	mux.HandleFunc("GET /projects/{id}", h.getProject)
	mux.HandleFunc("POST /chat", h.chat)
	return mux
}

func (h *Handler) addProject(w http.ResponseWriter, r *http.Request) {
	var req addProjectRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), projectTimeout)
	defer cancel()
	res, err := h.Projects.AddProject(ctx, req.RepoURL, req.GithubToken)
	switch {
	case errors.Is(err, project.ErrInvalidURL):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid GitHub URL"})
	case err != nil:
		internalError(w, r, err)
	case res.Existing:
		writeJSON(w, http.StatusOK, existingResponse{Message: "already exists", Data: res.Project})
	default:
		writeJSON(w, http.StatusCreated, res.Project)
	}
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), projectTimeout)
	defer cancel()
	p, err := h.Projects.GetProject(ctx, r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "project not found"})
	case err != nil:
		internalError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), chatTimeout)
	defer cancel()
	res, err := h.Chat.Answer(ctx, req.ProjectID, req.Question)
	if errors.Is(err, chat.ErrEmptyInput) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "projectId and question are required"})
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}

	// An answer without context is sent as a bare JSON string.
	if !res.Found {
		writeJSON(w, http.StatusOK, res.Answer)
	} else {
		writeJSON(w, http.StatusOK, chatResponse{Answer: res.Answer, Sources: res.Sources})
	}
	hlog.FromRequest(r).Info().Str("project_id", req.ProjectID).Bool("found", res.Found).Int("sources", len(res.Sources)).Dur("dur", time.Since(start)).Msg("served")
}

func decode(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to encode response")
	}
}

var httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "repochat_http_requests_total",
	Help: "HTTP requests by method, route and status code",
}, []string{"method", "route", "code"})

func init() {
	prometheus.MustRegister(httpRequests)
}

// WithLogging wraps h with request-scoped logging and an access log line
// per request.
func WithLogging(h http.Handler, logger zerolog.Logger) http.Handler {
	return hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			httpRequests.WithLabelValues(r.Method, r.Pattern, strconv.Itoa(status)).Inc()
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(h),
	)
}
