package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/slapglif/clippyb/internal/coordinator"
	"github.com/slapglif/clippyb/internal/processor"
	"github.com/slapglif/clippyb/internal/queue"
	"github.com/slapglif/clippyb/internal/resolve"
	"github.com/slapglif/clippyb/internal/search"
	"github.com/slapglif/clippyb/internal/storage"
)

// abortDrainTimeout bounds how long an abort waits for cancelled items.
var abortDrainTimeout = 30 * time.Second

// Queue is the durable work queue.
type Queue interface {
	EnqueueMany(items []queue.Item) error
	Items() []queue.Item
	Get(id string) (queue.Item, bool)
	Remove(id string) (bool, error)
	RetryFailed() (int, error)
	ClearCompleted() (int, error)
	Reconcile() (int, error)
	StatusCounts() queue.Counts
}

// Processor reports on and controls the background queue processor.
type Processor interface {
	Progress() processor.Progress
	Summary() string
	Stats() processor.Stats
	Abort() int
	Drain(ctx context.Context) error
	Resume()
}

// Aborter kills in-flight downloads.
type Aborter interface {
	AbortAll() int
}

// Resolver expands submissions into items and previews resolutions.
type Resolver interface {
	Expand(ctx context.Context, text string, typ queue.ItemType) (resolve.Expansion, error)
	Preview(ctx context.Context, query string) (coordinator.Result, error)
}

// History serves past resolutions and completed downloads.
type History interface {
	RecentResolutions(ctx context.Context, limit int) ([]storage.Resolution, error)
	GetResolution(ctx context.Context, id string) (storage.Resolution, error)
	RecentCompleted(ctx context.Context, limit int) ([]storage.CompletedRecord, error)
}

type AppDeps struct {
	Queue     Queue
	Processor Processor
	Fetcher   Aborter
	Resolver  Resolver
	History   History // optional; history routes return 404 without it
	Events    *Hub    // optional
	Token     string
	Logger    *slog.Logger
}

// EnqueueRequest submits one or more requests, one per line of Text. URL
// is accepted as an alias for Text. Type forces the item type.
type EnqueueRequest struct {
	Text string `json:"text"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

type EnqueueResponse struct {
	Items    []queue.Item `json:"items"`
	Rejected []string     `json:"rejected,omitempty"`
}

type StatusResponse struct {
	Summary  string             `json:"summary"`
	Progress processor.Progress `json:"progress"`
	Counts   queue.Counts       `json:"counts"`
	Stats    processor.Stats    `json:"stats"`
}

type AbortResponse struct {
	Cancelled  int  `json:"cancelled"`
	Killed     int  `json:"killed"`
	Reconciled int  `json:"reconciled"`
	Paused     bool `json:"paused"`
}

type ResolveRequest struct {
	Query string `json:"query"`
}

// ResolutionDetail is a stored resolution with its full session.
type ResolutionDetail struct {
	storage.Resolution
	Session json.RawMessage `json:"session"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/v1/queue/status", handleStatus(deps))
		r.Get("/v1/queue/items", handleListItems(deps))
		r.Post("/v1/queue/items", handleEnqueue(deps))
		r.Get("/v1/queue/items/{id}", handleGetItem(deps))
		r.Delete("/v1/queue/items/{id}", handleDeleteItem(deps))
		r.Post("/v1/queue/retry", handleRetry(deps))
		r.Post("/v1/queue/clear", handleClear(deps))
		r.Post("/v1/queue/abort", handleAbort(deps))
		r.Post("/v1/queue/resume", handleResume(deps))
		r.Post("/v1/resolve", handleResolve(deps))
		r.Get("/v1/resolutions", handleListResolutions(deps))
		r.Get("/v1/resolutions/{id}", handleGetResolution(deps))
		r.Get("/v1/completed", handleListCompleted(deps))
		if deps.Events != nil {
			r.Get("/v1/events", deps.Events.ServeWS)
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatusResponse{
			Summary:  deps.Processor.Summary(),
			Progress: deps.Processor.Progress(),
			Counts:   deps.Queue.StatusCounts(),
			Stats:    deps.Processor.Stats(),
		})
	}
}

func handleListItems(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := queue.Status(r.URL.Query().Get("status"))
		switch status {
		case "", queue.StatusPending, queue.StatusInProgress, queue.StatusCompleted, queue.StatusFailed, queue.StatusSkipped:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown status %q", status)
			return
		}
		limit := parseIntParam(r, "limit", 0, 0)

		items := []queue.Item{}
		for _, it := range deps.Queue.Items() {
			if status != "" && it.Status != status {
				continue
			}
			items = append(items, it)
			if limit > 0 && len(items) == limit {
				break
			}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func handleEnqueue(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req EnqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		text := req.Text
		if strings.TrimSpace(text) == "" {
			text = req.URL
		}
		if strings.TrimSpace(text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}
		var typ queue.ItemType
		if req.Type != "" {
			t, err := queue.ParseItemType(req.Type)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			typ = t
		}

		resp, status, err := enqueue(r.Context(), deps, text, typ)
		if err != nil {
			httpError(w, status, errorType(status), "%v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, resp)
	}
}

// enqueue expands text and stores the items. The returned status is the
// HTTP code matching err.
func enqueue(ctx context.Context, deps AppDeps, text string, typ queue.ItemType) (EnqueueResponse, int, error) {
	exp, err := deps.Resolver.Expand(ctx, text, typ)
	if err != nil {
		return EnqueueResponse{}, http.StatusBadGateway, err
	}
	if len(exp.Items) == 0 {
		return EnqueueResponse{}, http.StatusUnprocessableEntity,
			errors.New("nothing to enqueue: unsupported input " + strings.Join(exp.Rejected, ", "))
	}
	if err := deps.Queue.EnqueueMany(exp.Items); err != nil {
		return EnqueueResponse{}, http.StatusInternalServerError, err
	}
	deps.Logger.Info("items enqueued", "items", len(exp.Items), "rejected", len(exp.Rejected))
	return EnqueueResponse{Items: exp.Items, Rejected: exp.Rejected}, http.StatusAccepted, nil
}

func errorType(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_found"
	case status < 500:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

func handleGetItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, ok := deps.Queue.Get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handleDeleteItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		item, ok := deps.Queue.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		if item.Status == queue.StatusInProgress {
			httpError(w, http.StatusConflict, "invalid_request_error", "item is being processed")
			return
		}
		if _, err := deps.Queue.Remove(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove item: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleRetry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Queue.RetryFailed()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to requeue: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
	}
}

func handleClear(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Queue.ClearCompleted()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": n})
	}
}

// handleAbort stops the processor, kills running downloads and returns
// in-progress items to pending. Processing stays paused until resumed.
// The queue is reconciled only after every cancelled item has recorded
// its outcome.
func handleAbort(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := AbortResponse{
			Cancelled: deps.Processor.Abort(),
			Killed:    deps.Fetcher.AbortAll(),
			Paused:    true,
		}
		ctx, cancel := context.WithTimeout(r.Context(), abortDrainTimeout)
		defer cancel()
		if err := deps.Processor.Drain(ctx); err != nil {
			deps.Logger.Error("abort: running items did not stop", "error", err)
			httpError(w, http.StatusServiceUnavailable, "api_error", "aborted but running items did not stop: %v", err)
			return
		}
		n, err := deps.Queue.Reconcile()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "aborted but failed to reconcile queue: %v", err)
			return
		}
		resp.Reconciled = n
		deps.Logger.Warn("abort requested", "cancelled", resp.Cancelled, "killed", resp.Killed, "reconciled", n)
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleResume(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Processor.Resume()
		writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
	}
}

func handleResolve(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ResolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		res, err := deps.Resolver.Preview(r.Context(), req.Query)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, res)
		case errors.Is(err, coordinator.ErrNoMatchFound):
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
		case errors.Is(err, search.ErrResolverUnavailable):
			httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
		default:
			httpError(w, http.StatusBadGateway, "api_error", "resolution failed: %v", err)
		}
	}
}

func handleListResolutions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found", "history is not enabled")
			return
		}
		res, err := deps.History.RecentResolutions(r.Context(), parseIntParam(r, "limit", 20, 100))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list resolutions: %v", err)
			return
		}
		if res == nil {
			res = []storage.Resolution{}
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleGetResolution(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found", "history is not enabled")
			return
		}
		res, err := deps.History.GetResolution(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "resolution not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get resolution: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ResolutionDetail{Resolution: res, Session: json.RawMessage(res.SessionJSON)})
	}
}

func handleListCompleted(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found", "history is not enabled")
			return
		}
		recs, err := deps.History.RecentCompleted(r.Context(), parseIntParam(r, "limit", 20, 100))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list completed: %v", err)
			return
		}
		if recs == nil {
			recs = []storage.CompletedRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}
