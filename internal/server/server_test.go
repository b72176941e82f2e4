package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solveeverylight/internal/mediator"
	"solveeverylight/internal/metrics"
	"solveeverylight/internal/options"
	"solveeverylight/internal/pipeline"
	"solveeverylight/internal/platesolve"
	"solveeverylight/internal/storage"
)

type fixedOptions struct{ store *options.Store }

func (f fixedOptions) ActiveOptions() *options.Store { return f.store }

type queueStub struct {
	jobs []pipeline.Job
	err  error
}

func (q *queueStub) Submit(job pipeline.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *queueStub) Subscribe() (<-chan pipeline.Result, func()) {
	ch := make(chan pipeline.Result)
	close(ch)
	return ch, func() {}
}

type toolsStub struct{}

func (toolsStub) Status() map[platesolve.SolverType]platesolve.ToolStatus {
	return map[platesolve.SolverType]platesolve.ToolStatus{
		platesolve.SolverASTAP: {Available: true, Version: "2024.01.01", Path: "/usr/bin/astap"},
	}
}

type fixture struct {
	srv      *Server
	store    *storage.Store
	opts     *options.Store
	status   *mediator.StatusMediator
	feed     *mediator.NotificationFeed
	queue    *queueStub
	registry *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.New("sqlite", filepath.Join(t.TempDir(), "sel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Skip()

	f := &fixture{
		store:    store,
		opts:     options.NewStore(store.ProfileOptions(uuid.New()), options.DefaultPluginOptions()),
		status:   mediator.NewStatusMediator(),
		feed:     mediator.NewNotificationFeed(10),
		queue:    &queueStub{},
		registry: reg,
	}
	f.srv = NewServer("127.0.0.1:0", Deps{
		History:       store,
		Options:       fixedOptions{f.opts},
		Status:        f.status,
		Notifications: f.feed,
		Tools:         toolsStub{},
		Jobs:          f.queue,
		Gatherer:      reg,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStatusListsActiveSourcesAndTools(t *testing.T) {
	f := newFixture(t)
	f.status.StatusUpdate(mediator.ApplicationStatus{Source: "Plugin Solve Every Light", Status: "Plate solving"})

	rec := f.do(t, "GET", "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Statuses, 1)
	assert.Equal(t, "Plate solving", resp.Statuses[0].Status)
	assert.True(t, resp.Tools[platesolve.SolverASTAP].Available)
}

func TestHistoryRoutes(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	require.NoError(t, f.store.RecordSolve(storage.SolveRecord{ID: "a", ImageID: "img-a", ImageType: "LIGHT", Outcome: "solved", RA: 10, Dec: 41, CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, f.store.RecordSolve(storage.SolveRecord{ID: "b", ImageID: "img-b", ImageType: "LIGHT", Outcome: "failed", Error: "no solution", CreatedAt: now}))

	rec := f.do(t, "GET", "/history?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []storage.SolveRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].ID)

	rec = f.do(t, "GET", "/history/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"img-a"`)

	rec = f.do(t, "GET", "/history/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "GET", "/history/counts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var counts map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, 1, counts["solved"])
	assert.Equal(t, 1, counts["failed"])

	rec = f.do(t, "GET", "/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOptionsRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/options", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got options.PluginOptions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, options.DefaultPluginOptions(), got)

	rec = f.do(t, "PUT", "/options", `{"snapshots_enabled": true, "max_objects": 250}`)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := f.opts.Snapshot()
	assert.True(t, snap.SnapshotsEnabled)
	assert.Equal(t, 250, snap.MaxObjects)
	assert.True(t, snap.PluginEnabled, "fields not in the body keep their value")

	rec = f.do(t, "PUT", "/options/SearchRadius", `{"value": "4.5"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4.5, f.opts.Snapshot().SearchRadius)

	rec = f.do(t, "PUT", "/options/SearchRadius", `{"value": "wide"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "PUT", "/options/Bogus", `{"value": "1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "PUT", "/options", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	f.feed.ShowError("Could not solve image. Error message: boom")
	rec = f.do(t, "GET", "/notifications", "")
	assert.JSONEq(t, `[{"level":"error","text":"Could not solve image. Error message: boom"}]`, rec.Body.String())
}

func TestSolveSubmitsJob(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "POST", "/solve", `{"path": "/data/m31.fits"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, "/data/m31.fits", f.queue.jobs[0].Path)
	assert.Equal(t, "api", f.queue.jobs[0].Source)
	assert.NotEmpty(t, f.queue.jobs[0].ID)

	rec = f.do(t, "POST", "/solve", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.queue.err = pipeline.ErrQueueFull
	rec = f.do(t, "POST", "/solve", `{"path": "/data/m33.fits"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), metrics.Skipped+" 1")
}

func TestViewOf(t *testing.T) {
	v := ViewOf(pipeline.Result{
		Job:      pipeline.Job{ID: "j"},
		Duration: 1500 * time.Millisecond,
		Error:    errors.New("load failed"),
	})
	assert.False(t, v.Solved)
	assert.Equal(t, 1.5, v.Duration)
	assert.Equal(t, "load failed", v.Error)
}
