package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/tagserve/internal/logging"
	"github.com/conneroisu/tagserve/internal/registry"
	"github.com/conneroisu/tagserve/internal/version"
)

// TagInfo describes a registered tag.
type TagInfo struct {
	Name       string    `json:"name" yaml:"name"`
	Path       string    `json:"path" yaml:"path"`
	SourceHash string    `json:"source_hash" yaml:"source_hash"`
	CompiledAt time.Time `json:"compiled_at" yaml:"compiled_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"version":   version.Get().Short(),
		"tags":      s.registry.Count(),
	}
	s.writeJSON(w, r, health)
}

// Describe lists units in the order given.
func Describe(units []*registry.Unit) []TagInfo {
	tags := make([]TagInfo, 0, len(units))
	for _, u := range units {
		tags = append(tags, TagInfo{
			Name:       u.Name,
			Path:       u.FilePath,
			SourceHash: u.SourceHash,
			CompiledAt: u.CompiledAt,
		})
	}
	return tags
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, Describe(s.registry.All()))
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode response", "path", r.URL.Path)
	}
}

// requestLogger logs one line per request.
func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote", r.RemoteAddr,
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Warn(r.Context(), nil, "Request failed", fields...)
				return
			}
			logger.Info(r.Context(), "Request", fields...)
		})
	}
}
