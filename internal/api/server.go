package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/hash/sha256"
	"github.com/JakeFAU/pagesnap/internal/metrics"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "web-scraper-host"

const msgNotFound = "Scraped data file not found"

// Reader fetches a stored record. Missing objects must wrap fs.ErrNotExist.
type Reader interface {
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// IDGenerator produces request IDs.
type IDGenerator interface {
	MustNewID() string
}

// Server wires HTTP handlers to the record store.
type Server struct {
	router     chi.Router
	reader     Reader
	objectPath string
	idGen      IDGenerator
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(reader Reader, objectPath string, idGen IDGenerator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		reader:     reader,
		objectPath: objectPath,
		idGen:      idGen,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/", s.snapshot)
	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
	})
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	data, err := s.reader.GetObject(r.Context(), s.objectPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.writeError(w, http.StatusNotFound, msgNotFound)
			return
		}
		s.logger.Error("read snapshot failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// The record is served as stored, but only if it still parses.
	var record json.RawMessage
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Error("snapshot is not valid JSON", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	etag := sha256.ETag(data)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: true, Message: msg})
}

type errorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}
