// Package server exposes solve history, plugin options and live status over
// HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solveeverylight/internal/mediator"
	"solveeverylight/internal/options"
	"solveeverylight/internal/pipeline"
	"solveeverylight/internal/platesolve"
	"solveeverylight/internal/storage"
)

// HistoryReader reads recorded solves.
type HistoryReader interface {
	RecentSolves(limit int) ([]storage.SolveRecord, error)
	Solve(id string) (storage.SolveRecord, error)
	SolveCounts() (map[string]int, error)
}

// OptionsProvider returns the option store of the active profile.
type OptionsProvider interface {
	ActiveOptions() *options.Store
}

// JobQueue accepts files for solving and streams results.
type JobQueue interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// Deps are the collaborators the routes read from. Nil members disable
// their routes.
type Deps struct {
	History       HistoryReader
	Options       OptionsProvider
	Status        interface{ Current() []mediator.ApplicationStatus }
	Notifications interface{ Recent() []mediator.Notification }
	Tools         interface {
		Status() map[platesolve.SolverType]platesolve.ToolStatus
	}
	Jobs     JobQueue
	Gatherer prometheus.Gatherer
	Hub      *Hub
}

// Server wraps the HTTP server.
type Server struct {
	addr   string
	deps   Deps
	log    *slog.Logger
	server *http.Server
}

// NewServer creates a server listening on addr.
func NewServer(addr string, deps Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{addr: addr, deps: deps, log: log}
}

// Handler returns the router with every route registered.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if s.deps.Hub != nil {
		go s.deps.Hub.Run(ctx)
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	if s.deps.History != nil {
		r.HandleFunc("/history", s.handleHistory).Methods("GET")
		r.HandleFunc("/history/counts", s.handleHistoryCounts).Methods("GET")
		r.HandleFunc("/history/{id}", s.handleHistoryItem).Methods("GET")
	}
	if s.deps.Options != nil {
		r.HandleFunc("/options", s.handleGetOptions).Methods("GET")
		r.HandleFunc("/options", s.handlePutOptions).Methods("PUT")
		r.HandleFunc("/options/{key}", s.handleSetOption).Methods("PUT")
	}
	if s.deps.Notifications != nil {
		r.HandleFunc("/notifications", s.handleNotifications).Methods("GET")
	}
	if s.deps.Jobs != nil {
		r.HandleFunc("/solve", s.handleSolve).Methods("POST")
		r.HandleFunc("/stream", s.handleResultStream).Methods("GET")
	}
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	if s.deps.Hub != nil {
		r.HandleFunc("/ws", s.deps.Hub.serveWS).Methods("GET")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	Statuses []mediator.ApplicationStatus                   `json:"statuses"`
	Tools    map[platesolve.SolverType]platesolve.ToolStatus `json:"tools,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Statuses: []mediator.ApplicationStatus{}}
	if s.deps.Status != nil {
		resp.Statuses = s.deps.Status.Current()
	}
	if s.deps.Tools != nil {
		resp.Tools = s.deps.Tools.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.deps.History.RecentSolves(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []storage.SolveRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleHistoryCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.History.SolveCounts()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.History.Solve(mux.Vars(r)["id"])
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Options.ActiveOptions().Snapshot())
}

func (s *Server) handlePutOptions(w http.ResponseWriter, r *http.Request) {
	store := s.deps.Options.ActiveOptions()
	// missing fields keep their current value
	opts := store.Snapshot()
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		http.Error(w, "invalid options: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := store.Save(opts); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, store.Snapshot())
}

func (s *Server) handleSetOption(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	store := s.deps.Options.ActiveOptions()
	if err := store.Set(mux.Vars(r)["key"], body.Value); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, store.Snapshot())
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ns := s.deps.Notifications.Recent()
	if ns == nil {
		ns = []mediator.Notification{}
	}
	writeJSON(w, http.StatusOK, ns)
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	job := pipeline.Job{ID: uuid.NewString(), Path: body.Path, Source: "api"}
	if err := s.deps.Jobs.Submit(job); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// ResultView is the wire form of a pipeline result.
type ResultView struct {
	Job      pipeline.Job `json:"job"`
	Solved   bool         `json:"solved"`
	Headers  int          `json:"headers"`
	Sidecar  string       `json:"sidecar,omitempty"`
	Duration float64      `json:"duration_seconds"`
	Error    string       `json:"error,omitempty"`
}

// ViewOf converts res for JSON output.
func ViewOf(res pipeline.Result) ResultView {
	v := ResultView{
		Job:      res.Job,
		Solved:   res.Solved(),
		Headers:  len(res.Headers),
		Sidecar:  res.Sidecar,
		Duration: res.Duration.Seconds(),
	}
	if res.Error != nil {
		v.Error = res.Error.Error()
	}
	return v
}

func (s *Server) handleResultStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.deps.Jobs.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(ViewOf(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}
