package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/harvester/internal/fetch/coordinator"
)

// Server provides HTTP endpoints for job status monitoring.
type Server struct {
	exporter *Exporter
	server   *http.Server
}

// NewServer creates a new status server.
func NewServer(exporter *Exporter, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		exporter: exporter,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.exporter.State()

	response := map[string]string{"state": state.String()}
	w.Header().Set("Content-Type", "application/json")

	if state == coordinator.StateFailed {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	pm := s.exporter.PeerCacheMetrics()

	report := map[string]any{
		"state": s.exporter.State().String(),
		"peer_cache": map[string]any{
			"size":        pm.Size,
			"hits":        pm.Hits,
			"misses":      pm.Misses,
			"expirations": pm.Expirations,
			"hit_rate":    pm.HitRate,
		},
	}
	if ranges, err := s.exporter.JournalRanges(r.Context()); err == nil && ranges != nil {
		report["failed_ranges"] = ranges
	}
	if ds, ok := s.exporter.DedupStats(); ok {
		report["dedup_cache"] = map[string]any{
			"size":     ds.CacheSize,
			"hits":     ds.Hits,
			"misses":   ds.Misses,
			"hit_rate": ds.HitRate,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
