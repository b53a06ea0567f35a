// Package api serves run history and export metadata over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/landcover/internal/export"
	"github.com/sells-group/landcover/internal/model"
	"github.com/sells-group/landcover/internal/store"
)

var descriptionPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Server exposes a read-only view of runs and exports.
type Server struct {
	store   store.Store
	exports *export.FileSink
	origins []string
}

// New returns a Server reading runs from st and exports from exportDir.
func New(st store.Store, exportDir string, origins []string) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{store: st, exports: &export.FileSink{Dir: exportDir}, origins: origins}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/runs", s.listRuns)
	r.Get("/runs/{id}", s.getRun)
	r.Get("/exports/{description}", s.getExport)
	return r
}

type runDetail struct {
	*model.Run
	Phases []model.RunPhase `json:"phases"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{Status: model.RunStatus(q.Get("status"))}

	for key, dst := range map[string]*int{"year": &filter.Year, "limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, key+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	phases, err := s.store.ListPhases(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runDetail{Run: run, Phases: phases})
}

// getExport returns the sidecar document, or the raster itself with
// ?format=tif.
func (s *Server) getExport(w http.ResponseWriter, r *http.Request) {
	desc := chi.URLParam(r, "description")
	if !descriptionPattern.MatchString(desc) {
		writeError(w, http.StatusBadRequest, "invalid export description")
		return
	}
	tif, _, sidecar := s.exports.Paths(desc)

	if r.URL.Query().Get("format") == "tif" {
		if _, err := os.Stat(tif); err != nil {
			writeError(w, http.StatusNotFound, "export not found")
			return
		}
		w.Header().Set("Content-Type", "image/tiff")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(tif)+`"`)
		http.ServeFile(w, r, tif)
		return
	}

	data, err := os.ReadFile(sidecar)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}
