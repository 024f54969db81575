package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/Iron-Ham/sessiond/internal/logging"
	"github.com/Iron-Ham/sessiond/internal/metrics"
	"github.com/Iron-Ham/sessiond/internal/router"
	"github.com/Iron-Ham/sessiond/internal/session"
)

const opsShutdownTimeout = 5 * time.Second

// healthStatus is the /healthz response body.
type healthStatus struct {
	Status     string `json:"status"`
	Persistent bool   `json:"persistent"`
	Sessions   int    `json:"sessions"`
	QueueLen   int    `json:"queue_len"`
}

// sessionSummary is one entry of the /debug/sessions response body.
type sessionSummary struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Backlog    int       `json:"backlog"`
	LastAccess time.Time `json:"last_access"`
	Dirty      bool      `json:"dirty"`
}

// newOpsHandler serves the operator endpoints: Prometheus metrics, a health
// check and a live session listing.
func newOpsHandler(reg *session.Registry, rt *router.Router, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{
			Status:     "ok",
			Persistent: reg.Persistent(),
			Sessions:   reg.Len(),
		}
		if rt != nil {
			status.QueueLen = rt.QueueLen()
		}
		if !status.Persistent {
			status.Status = "degraded"
		}
		writeJSON(w, status)
	})
	mux.HandleFunc("GET /debug/sessions", func(w http.ResponseWriter, r *http.Request) {
		out := []sessionSummary{}
		reg.ForEachActive(func(s *session.Session) bool {
			sum := sessionSummary{
				ID:         s.ID(),
				Backlog:    s.Len(),
				LastAccess: s.LastAccess(),
				Dirty:      s.Dirty(),
			}
			if u := s.User(); u != nil {
				sum.UserID = u.ID
			}
			out = append(out, sum)
			return true
		})
		slices.SortFunc(out, func(a, b sessionSummary) int {
			switch {
			case a.ID < b.ID:
				return -1
			case a.ID > b.ID:
				return 1
			}
			return 0
		})
		writeJSON(w, out)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// runOpsServer serves h on addr until ctx is done.
func runOpsServer(ctx context.Context, addr string, h http.Handler, logger *logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("ops server listening", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("ops server failed", "addr", addr, "error", err.Error())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opsShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown failed", "error", err.Error())
		return err
	}
	logger.Info("ops server stopped")
	return nil
}
