package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/casebridge/internal/api/response"
	"github.com/kiranshivaraju/casebridge/internal/store"
)

const (
	defaultStreamInterval = 500 * time.Millisecond
	streamWriteTimeout    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewStreamHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/stream. It upgrades to a WebSocket and pushes a
// JobView every interval until the job is terminal, then closes normally.
// Closing the socket early does not affect the job.
func NewStreamHandler(jobs JobGetter, interval time.Duration) http.HandlerFunc {
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")

		// Resolve the id before upgrading so unknown jobs get a plain 404.
		job, err := jobs.Get(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
				return
			}
			slog.Error("reading job", "job_id", jobID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
			return
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Time{})

		// Drain client frames so close messages are processed.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(NewJobView(job)); err != nil {
				slog.Debug("websocket write failed", "job_id", jobID, "error", err)
				return
			}
			if job.Status.IsTerminal() {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status)),
					time.Now().Add(time.Second))
				return
			}

			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}

			job, err = jobs.Get(r.Context(), jobID)
			if err != nil {
				slog.Warn("stream lost job", "job_id", jobID, "error", err)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "job unavailable"),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}
