package remote

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdxmph/archdedup/pkg/duplicate"
)

// HashService is the hashing side the server fronts
type HashService interface {
	duplicate.Hasher
	duplicate.ArchiveProcessor
}

// maxBody bounds a single request; archive entries are sent whole
const maxBody = 256 << 20

// Server serves an index and hashing service to remote clients
type Server struct {
	index  duplicate.Index
	hasher HashService
	logger zerolog.Logger
	mux    *http.ServeMux
}

// NewServer creates a server around local collaborators
func NewServer(index duplicate.Index, hasher HashService, logger zerolog.Logger) *Server {
	s := &Server{
		index:  index,
		hasher: hasher,
		logger: logger.With().Str("component", "index-server").Logger(),
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("GET "+pathExact, s.handleExact)
	s.mux.HandleFunc("GET "+pathNear, s.handleNear)
	s.mux.HandleFunc("DELETE "+pathPaths, s.handleDelete)
	s.mux.HandleFunc("POST "+pathHash, s.handleHash)
	s.mux.HandleFunc("POST "+pathHashExact, s.handleHashExact)
	s.mux.HandleFunc("POST "+pathArchives, s.handleArchive)
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	s.mux.ServeHTTP(rec, r)

	s.logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Dur("elapsed", time.Since(start)).
		Msg("request")
}

func (s *Server) handleExact(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hash := q.Get("hash")
	if hash == "" {
		s.fail(w, http.StatusBadRequest, errors.New("hash is required"))
		return
	}

	records, err := s.index.LookupExact(r.Context(), hash, q.Get("exclude"))
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.reply(w, recordsResponse{Records: records})
}

func (s *Server) handleNear(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	phash, err := strconv.ParseUint(q.Get("phash"), 10, 64)
	if err != nil {
		s.fail(w, http.StatusBadRequest, errors.New("phash must be an unsigned integer"))
		return
	}

	distance := duplicate.DefaultDistance
	if d := q.Get("distance"); d != "" {
		distance, err = strconv.Atoi(d)
		if err != nil || distance < 0 {
			s.fail(w, http.StatusBadRequest, errors.New("distance must be a non-negative integer"))
			return
		}
	}

	records, err := s.index.LookupWithinDistance(r.Context(), phash, distance, q.Get("exclude"))
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.reply(w, recordsResponse{Records: records})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.fail(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}

	if err := s.index.DeleteAllForPath(r.Context(), path); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHash(w http.ResponseWriter, r *http.Request) {
	var req hashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.hasher.HashContent(r.Context(), req.OwnerPath, req.Entry, req.Content)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.reply(w, res)
}

func (s *Server) handleHashExact(w http.ResponseWriter, r *http.Request) {
	var req hashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	hash, err := s.hasher.HashBytesExact(r.Context(), req.Content)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.reply(w, exactResponse{Hash: hash})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if req.Path == "" {
		s.fail(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}

	if err := s.hasher.ProcessArchive(r.Context(), req.Path); err != nil {
		status := http.StatusInternalServerError
		var readErr *duplicate.ContentReadError
		if errors.As(err, &readErr) {
			status = http.StatusUnprocessableEntity
		}
		s.fail(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
