package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/casebridge/internal/store"
	"github.com/kiranshivaraju/casebridge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamServer(t *testing.T, st store.Store) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/v1/jobs/{jobID}/stream", NewStreamHandler(st, 10*time.Millisecond))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, id string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/" + id + "/stream"
}

func TestStream_PushesUntilTerminal(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	job, err := st.Create(ctx, "", models.Payload{Prompt: "x"})
	require.NoError(t, err)
	srv := streamServer(t, st)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, job.ID), nil)
	require.NoError(t, err)
	defer conn.Close()

	var first JobView
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, job.ID, first.JobID)
	assert.Equal(t, models.JobStatusPending, first.Status)

	require.NoError(t, st.Update(ctx, job.ID, models.JobStatusProcessing))
	require.NoError(t, st.Update(ctx, job.ID, models.JobStatusCompleted, store.WithResult("report")))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var last JobView
	for {
		var v JobView
		if err := conn.ReadJSON(&v); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		last = v
	}
	assert.Equal(t, models.JobStatusCompleted, last.Status)
	require.NotNil(t, last.Result)
	assert.Equal(t, "report", *last.Result)
}

func TestStream_UnknownJob(t *testing.T) {
	srv := streamServer(t, store.NewMemoryStore())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "missing"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.True(t, errors.Is(err, websocket.ErrBadHandshake))
}

func TestStream_TerminalJobClosesImmediately(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	job, err := st.Create(ctx, "", models.Payload{Prompt: "x"})
	require.NoError(t, err)
	require.NoError(t, st.Update(ctx, job.ID, models.JobStatusProcessing))
	require.NoError(t, st.Update(ctx, job.ID, models.JobStatusFailed, store.WithError("boom")))
	srv := streamServer(t, st)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, job.ID), nil)
	require.NoError(t, err)
	defer conn.Close()

	var v JobView
	require.NoError(t, conn.ReadJSON(&v))
	assert.Equal(t, models.JobStatusFailed, v.Status)
	require.NotNil(t, v.Error)
	assert.Equal(t, "boom", *v.Error)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
