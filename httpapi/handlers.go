package httpapi

import (
	"io"
	"net/http"
	"strings"
)

// handleHealth reports liveness. It never touches the engine, so it is not
// dispatched onto the worker pool.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleGet serves GET /api/v1/{key}: 200 with the raw value bytes on a
// hit, 404 on a miss, 500 on any other engine error.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var value []byte
	err := s.dispatcher.run(func() error {
		v, err := s.engine.Get([]byte(key))
		value = v
		return err
	})
	if err != nil {
		if isNotFound(err) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.writeInternalError(w, r, "get failed", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
}

// handlePut serves POST /api/v1: the body is plain text "key=value",
// split on the first '='. A body with no '=' is rejected with 400.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeInternalError(w, r, "reading request body", err)
		return
	}

	key, value, ok := strings.Cut(string(body), "=")
	if !ok {
		http.Error(w, "Must provide key=value format", http.StatusBadRequest)
		return
	}

	err = s.dispatcher.run(func() error {
		return s.engine.Insert([]byte(key), []byte(value))
	})
	if err != nil {
		s.writeInternalError(w, r, "insert failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDelete serves DELETE /api/v1/{key}: 204 on success, 500 on any
// engine error. Deleting an absent key is not itself an error — the
// engine records a tombstone regardless.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	err := s.dispatcher.run(func() error {
		return s.engine.Delete([]byte(key))
	})
	if err != nil {
		s.writeInternalError(w, r, "delete failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
