// Package httpapi exposes application submission and lifecycle over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"applyflow/internal/applications"
	"applyflow/internal/observability"
)

// UsernameHeader carries the authenticated caller, set by the gateway.
const UsernameHeader = "X-Username"

const (
	maxBody      = 2*applications.MaxCVSize + 1<<20
	maxMemory    = 1 << 20
	formJobID    = "jobId"
	formEmail    = "email"
	formCover    = "coverLetter"
	formCVFile   = "cvFile"
	healthStatus = "ok"
)

// Creator runs the submission saga.
type Creator interface {
	CreateApplication(ctx context.Context, req applications.CreateRequest, username string) (applications.View, error)
}

// Lifecycle reads and mutates existing applications.
type Lifecycle interface {
	Get(ctx context.Context, id string) (applications.View, error)
	ChangeStatus(ctx context.Context, id string, target applications.Status, changedBy, reason string) (applications.View, error)
	Withdraw(ctx context.Context, id, username string) error
	ListMine(ctx context.Context, q applications.ListQuery) (applications.Page, error)
}

// Options configures NewServer.
type Options struct {
	Creator        Creator
	Lifecycle      Lifecycle
	Realtime       http.Handler
	Metrics        *observability.Metrics
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Server routes HTTP requests to the application use cases.
type Server struct {
	creator   Creator
	lifecycle Lifecycle
	metrics   *observability.Metrics
	logger    *zap.Logger
	handler   http.Handler
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		creator:   opts.Creator,
		lifecycle: opts.Lifecycle,
		metrics:   opts.Metrics,
		logger:    logger.Named("http"),
	}

	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/applications", s.handleCreate)
	s.route(mux, "GET /api/v1/applications", s.handleListMine)
	s.route(mux, "GET /api/v1/applications/{id}", s.handleGet)
	s.route(mux, "PATCH /api/v1/applications/{id}/status", s.handleChangeStatus)
	s.route(mux, "DELETE /api/v1/applications/{id}", s.handleWithdraw)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": healthStatus})
	})
	if opts.Realtime != nil {
		// Not wrapped by the metrics middleware: the upgrade needs the raw ResponseWriter.
		realtime := opts.Realtime
		mux.HandleFunc("GET /ws/notifications", func(w http.ResponseWriter, r *http.Request) {
			if _, ok := requireUsername(w, r); !ok {
				return
			}
			realtime.ServeHTTP(w, r)
		})
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", UsernameHeader},
	})
	s.handler = c.Handler(mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, observability.Middleware(s.metrics, pattern, h))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	username, ok := requireUsername(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "INVALID_FILE", "request body too large")
			return
		}
		writeProblem(w, http.StatusBadRequest, "BAD_REQUEST", "expected multipart/form-data")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := applications.CreateRequest{
		JobID:       strings.TrimSpace(r.FormValue(formJobID)),
		CoverLetter: r.FormValue(formCover),
		Email:       strings.TrimSpace(r.FormValue(formEmail)),
	}
	if req.JobID == "" {
		writeProblem(w, http.StatusBadRequest, "BAD_REQUEST", "jobId is required")
		return
	}
	if file, header, err := r.FormFile(formCVFile); err == nil {
		defer file.Close()
		req.CV = cvFile(file, header)
	}

	view, err := s.creator.CreateApplication(r.Context(), req, username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/applications/"+view.ID)
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := s.lifecycle.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListMine(w http.ResponseWriter, r *http.Request) {
	username, ok := requireUsername(w, r)
	if !ok {
		return
	}
	q := applications.ListQuery{Username: username}
	var err error
	values := r.URL.Query()
	if q.Page, err = intParam(values.Get("page")); err != nil {
		writeProblem(w, http.StatusBadRequest, "BAD_REQUEST", "page must be an integer")
		return
	}
	if q.Size, err = intParam(values.Get("size")); err != nil {
		writeProblem(w, http.StatusBadRequest, "BAD_REQUEST", "size must be an integer")
		return
	}
	if raw := values.Get("status"); raw != "" {
		if q.Status, err = applications.ParseStatus(raw); err != nil {
			writeProblem(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
	}

	page, err := s.lifecycle.ListMine(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	username, ok := requireUsername(w, r)
	if !ok {
		return
	}
	var body statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMemory)).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	target, err := applications.ParseStatus(body.Status)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	view, err := s.lifecycle.ChangeStatus(r.Context(), r.PathValue("id"), target, username, body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	username, ok := requireUsername(w, r)
	if !ok {
		return
	}
	if err := s.lifecycle.Withdraw(r.Context(), r.PathValue("id"), username); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireUsername(w http.ResponseWriter, r *http.Request) (string, bool) {
	username := strings.TrimSpace(r.Header.Get(UsernameHeader))
	if username == "" {
		writeProblem(w, http.StatusUnauthorized, "UNAUTHENTICATED", UsernameHeader+" header is required")
		return "", false
	}
	return username, true
}

func cvFile(f multipart.File, h *multipart.FileHeader) *applications.File {
	return &applications.File{
		Name:        h.Filename,
		ContentType: h.Header.Get("Content-Type"),
		Size:        h.Size,
		Content:     f,
	}
}
