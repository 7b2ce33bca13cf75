package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slapglif/clippyb/internal/coordinator"
	"github.com/slapglif/clippyb/internal/processor"
	"github.com/slapglif/clippyb/internal/queue"
	"github.com/slapglif/clippyb/internal/resolve"
	"github.com/slapglif/clippyb/internal/search"
	"github.com/slapglif/clippyb/internal/storage"
)

// --- fakes ---

type fakeProcessor struct {
	q       *queue.Queue
	paused  atomic.Bool
	aborted atomic.Int32
	// drain runs on Drain; nil drains immediately.
	drain func(ctx context.Context) error
}

func (f *fakeProcessor) Progress() processor.Progress {
	c := f.q.StatusCounts()
	return processor.Progress{
		Pending:    c.Pending,
		InProgress: c.InProgress,
		Completed:  c.Completed + c.Skipped,
		Failed:     c.Failed,
		Paused:     f.paused.Load(),
	}
}

func (f *fakeProcessor) Summary() string {
	p := f.Progress()
	return fmt.Sprintf("Queue: %d pending, %d processing, %d completed, %d failed", p.Pending, p.InProgress, p.Completed, p.Failed)
}

func (f *fakeProcessor) Stats() processor.Stats { return processor.Stats{} }

func (f *fakeProcessor) Abort() int {
	f.paused.Store(true)
	f.aborted.Add(1)
	return 1
}

func (f *fakeProcessor) Drain(ctx context.Context) error {
	if f.drain == nil {
		return nil
	}
	return f.drain(ctx)
}

func (f *fakeProcessor) Resume() { f.paused.Store(false) }

type fakeAborter struct{ calls atomic.Int32 }

func (f *fakeAborter) AbortAll() int {
	f.calls.Add(1)
	return 2
}

type fakeResolver struct {
	expandErr error
	result    coordinator.Result
	err       error
}

// Expand treats each line as a song name, rejecting lines starting with "http://bad".
func (f *fakeResolver) Expand(_ context.Context, text string, typ queue.ItemType) (resolve.Expansion, error) {
	if f.expandErr != nil {
		return resolve.Expansion{}, f.expandErr
	}
	if typ == "" {
		typ = queue.TypeSongName
	}
	var exp resolve.Expansion
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "http://bad"):
			exp.Rejected = append(exp.Rejected, line)
		default:
			exp.Items = append(exp.Items, queue.NewItem(line, typ, nil))
		}
	}
	return exp, nil
}

func (f *fakeResolver) Preview(_ context.Context, q string) (coordinator.Result, error) {
	res := f.result
	res.Session.OriginalQuery = q
	return res, f.err
}

// --- helpers ---

type testApp struct {
	handler  http.Handler
	q        *queue.Queue
	proc     *fakeProcessor
	fetcher  *fakeAborter
	resolver *fakeResolver
	store    *storage.Store
}

func newTestApp(t *testing.T, token string) *testApp {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.json"))
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	a := &testApp{
		q:        q,
		proc:     &fakeProcessor{q: q},
		fetcher:  &fakeAborter{},
		resolver: &fakeResolver{},
		store:    store,
	}
	a.handler = NewAppHandler(AppDeps{
		Queue:     q,
		Processor: a.proc,
		Fetcher:   a.fetcher,
		Resolver:  a.resolver,
		History:   store,
		Token:     token,
	})
	return a
}

func (a *testApp) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
	return v
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	body := decode[map[string]map[string]string](t, rr)
	return body["error"]["type"], body["error"]["message"]
}

// --- tests ---

func TestHealth(t *testing.T) {
	a := newTestApp(t, "secret")
	rr := a.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := decode[map[string]string](t, rr); body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestAuth(t *testing.T) {
	a := newTestApp(t, "secret")

	rr := a.do(t, http.MethodGet, "/v1/queue/status", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if typ, _ := errorMessage(t, rr); typ != "authentication_error" {
		t.Errorf("error type = %q", typ)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/queue/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("status with token = %d, want 200", rr.Code)
	}
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	a := newTestApp(t, "")
	if rr := a.do(t, http.MethodGet, "/v1/queue/status", ""); rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestEnqueueAndList(t *testing.T) {
	a := newTestApp(t, "")

	rr := a.do(t, http.MethodPost, "/v1/queue/items", `{"text":"song one\nhttp://bad.example/x\nsong two"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	resp := decode[EnqueueResponse](t, rr)
	if len(resp.Items) != 2 || len(resp.Rejected) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if a.q.Len() != 2 {
		t.Errorf("queue length = %d, want 2", a.q.Len())
	}

	rr = a.do(t, http.MethodGet, "/v1/queue/items", "")
	items := decode[[]queue.Item](t, rr)
	if len(items) != 2 || items[0].URL != "song one" || items[1].URL != "song two" {
		t.Errorf("items = %+v", items)
	}

	rr = a.do(t, http.MethodGet, "/v1/queue/items?status=failed", "")
	if items := decode[[]queue.Item](t, rr); len(items) != 0 {
		t.Errorf("failed items = %+v, want none", items)
	}

	rr = a.do(t, http.MethodGet, "/v1/queue/items?limit=1", "")
	if items := decode[[]queue.Item](t, rr); len(items) != 1 {
		t.Errorf("limited items = %d, want 1", len(items))
	}
}

func TestEnqueueURLAliasAndType(t *testing.T) {
	a := newTestApp(t, "")
	rr := a.do(t, http.MethodPost, "/v1/queue/items", `{"url":"https://youtu.be/x","type":"youtube_url"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if resp := decode[EnqueueResponse](t, rr); resp.Items[0].Type != queue.TypeYouTubeURL {
		t.Errorf("type = %s", resp.Items[0].Type)
	}
}

func TestEnqueueValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"empty text", `{"text":"  "}`, http.StatusBadRequest},
		{"bad type", `{"text":"x","type":"mp3"}`, http.StatusBadRequest},
		{"all rejected", `{"text":"http://bad.example/1"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestApp(t, "")
			rr := a.do(t, http.MethodPost, "/v1/queue/items", tt.body)
			if rr.Code != tt.code {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.code, rr.Body.String())
			}
			if a.q.Len() != 0 {
				t.Error("invalid request enqueued items")
			}
		})
	}
}

func TestEnqueueExpandFailure(t *testing.T) {
	a := newTestApp(t, "")
	a.resolver.expandErr = errors.New("spotify page unavailable")
	rr := a.do(t, http.MethodPost, "/v1/queue/items", `{"text":"https://open.spotify.com/playlist/x"}`)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}
}

func TestGetAndDeleteItem(t *testing.T) {
	a := newTestApp(t, "")
	item := queue.NewItem("song", queue.TypeSongName, nil)
	if err := a.q.Enqueue(item); err != nil {
		t.Fatal(err)
	}

	rr := a.do(t, http.MethodGet, "/v1/queue/items/"+item.ID, "")
	if got := decode[queue.Item](t, rr); got.ID != item.ID {
		t.Errorf("item = %+v", got)
	}
	if rr := a.do(t, http.MethodGet, "/v1/queue/items/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing item status = %d, want 404", rr.Code)
	}

	claimed, _ := a.q.Claim(1)
	if rr := a.do(t, http.MethodDelete, "/v1/queue/items/"+item.ID, ""); rr.Code != http.StatusConflict {
		t.Errorf("delete in-progress status = %d, want 409", rr.Code)
	}
	claimed[0].Complete(time.Now())
	a.q.Update(claimed[0])

	if rr := a.do(t, http.MethodDelete, "/v1/queue/items/"+item.ID, ""); rr.Code != http.StatusOK {
		t.Errorf("delete status = %d, want 200", rr.Code)
	}
	if a.q.Len() != 0 {
		t.Error("item not removed")
	}
}

func TestRetryAndClear(t *testing.T) {
	a := newTestApp(t, "")
	a.q.EnqueueMany([]queue.Item{
		queue.NewItem("a", queue.TypeSongName, nil),
		queue.NewItem("b", queue.TypeSongName, nil),
	})
	claimed, _ := a.q.Claim(0)
	claimed[0].Fail("no match", time.Now())
	claimed[1].Complete(time.Now())
	a.q.Update(claimed[0])
	a.q.Update(claimed[1])

	rr := a.do(t, http.MethodPost, "/v1/queue/retry", "")
	if got := decode[map[string]int](t, rr); got["requeued"] != 1 {
		t.Errorf("retry = %v", got)
	}
	rr = a.do(t, http.MethodPost, "/v1/queue/clear", "")
	if got := decode[map[string]int](t, rr); got["removed"] != 1 {
		t.Errorf("clear = %v", got)
	}
	if c := a.q.StatusCounts(); c.Pending != 1 || c.Total() != 1 {
		t.Errorf("counts = %+v", c)
	}
}

func TestAbortAndResume(t *testing.T) {
	a := newTestApp(t, "")
	a.q.Enqueue(queue.NewItem("a", queue.TypeSongName, nil))
	a.q.Claim(1)

	rr := a.do(t, http.MethodPost, "/v1/queue/abort", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decode[AbortResponse](t, rr)
	if resp.Cancelled != 1 || resp.Killed != 2 || resp.Reconciled != 1 || !resp.Paused {
		t.Errorf("abort = %+v", resp)
	}
	if a.fetcher.calls.Load() != 1 {
		t.Error("AbortAll not called")
	}
	if c := a.q.StatusCounts(); c.Pending != 1 || c.InProgress != 0 {
		t.Errorf("counts after abort = %+v", c)
	}

	status := decode[StatusResponse](t, a.do(t, http.MethodGet, "/v1/queue/status", ""))
	if !status.Progress.Paused {
		t.Error("status does not report paused")
	}

	a.do(t, http.MethodPost, "/v1/queue/resume", "")
	if a.proc.paused.Load() {
		t.Error("processor still paused after resume")
	}
}

func TestAbortReconcilesAfterDrain(t *testing.T) {
	a := newTestApp(t, "")
	item := queue.NewItem("a", queue.TypeSongName, nil)
	a.q.Enqueue(item)
	claimed, _ := a.q.Claim(1)

	// The cancelled task records its own outcome while Drain blocks.
	a.proc.drain = func(context.Context) error {
		it := claimed[0]
		it.ResetForRetry()
		return a.q.Update(it)
	}
	rr := a.do(t, http.MethodPost, "/v1/queue/abort", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp := decode[AbortResponse](t, rr); resp.Reconciled != 0 {
		t.Errorf("reconciled = %d, want 0 once the task reset its item", resp.Reconciled)
	}
	if got, _ := a.q.Get(item.ID); got.Status != queue.StatusPending {
		t.Errorf("item status = %s, want pending", got.Status)
	}
}

func TestAbortDrainTimeout(t *testing.T) {
	old := abortDrainTimeout
	abortDrainTimeout = 10 * time.Millisecond
	t.Cleanup(func() { abortDrainTimeout = old })

	a := newTestApp(t, "")
	item := queue.NewItem("a", queue.TypeSongName, nil)
	a.q.Enqueue(item)
	a.q.Claim(1)
	a.proc.drain = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	rr := a.do(t, http.MethodPost, "/v1/queue/abort", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if got, _ := a.q.Get(item.ID); got.Status != queue.StatusInProgress {
		t.Errorf("item status = %s, want in progress until its task stops", got.Status)
	}
	if !a.proc.paused.Load() {
		t.Error("processor not paused")
	}
}

func TestStatus(t *testing.T) {
	a := newTestApp(t, "")
	a.q.Enqueue(queue.NewItem("a", queue.TypeSongName, nil))

	resp := decode[StatusResponse](t, a.do(t, http.MethodGet, "/v1/queue/status", ""))
	if resp.Counts.Pending != 1 || resp.Progress.Pending != 1 {
		t.Errorf("status = %+v", resp)
	}
	if !strings.HasPrefix(resp.Summary, "Queue: 1 pending") {
		t.Errorf("summary = %q", resp.Summary)
	}
}

func TestResolve(t *testing.T) {
	a := newTestApp(t, "")
	a.resolver.result = coordinator.Result{
		Candidate:  search.Candidate{ID: "abc", Title: "Song", SourceURL: "https://youtube.com/watch?v=abc"},
		Confidence: 0.8,
	}

	rr := a.do(t, http.MethodPost, "/v1/resolve", `{"query":"song"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	res := decode[coordinator.Result](t, rr)
	if res.Candidate.ID != "abc" || res.Session.OriginalQuery != "song" {
		t.Errorf("result = %+v", res)
	}

	if rr := a.do(t, http.MethodPost, "/v1/resolve", `{"query":""}`); rr.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", rr.Code)
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w after 3 rounds", coordinator.ErrNoMatchFound), http.StatusNotFound},
		{search.ErrResolverUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		a := newTestApp(t, "")
		a.resolver.err = tt.err
		if rr := a.do(t, http.MethodPost, "/v1/resolve", `{"query":"x"}`); rr.Code != tt.code {
			t.Errorf("%v: status = %d, want %d", tt.err, rr.Code, tt.code)
		}
	}
}

func TestHistoryRoutes(t *testing.T) {
	a := newTestApp(t, "")
	ctx := context.Background()
	a.store.SaveResolution(ctx, storage.Resolution{
		ID: "r1", Query: "song", Outcome: "accepted", Rounds: 1,
		SessionJSON: `{"original_query":"song"}`, CreatedAt: time.Now(),
	})
	a.store.MarkCompleted(ctx, storage.CompletedRecord{SourceURL: "https://youtube.com/watch?v=abc", ItemID: "i1"})

	list := decode[[]storage.Resolution](t, a.do(t, http.MethodGet, "/v1/resolutions", ""))
	if len(list) != 1 || list[0].ID != "r1" {
		t.Errorf("resolutions = %+v", list)
	}

	rr := a.do(t, http.MethodGet, "/v1/resolutions/r1", "")
	detail := decode[map[string]any](t, rr)
	sess, ok := detail["session"].(map[string]any)
	if !ok || sess["original_query"] != "song" {
		t.Errorf("detail = %v", detail)
	}
	if rr := a.do(t, http.MethodGet, "/v1/resolutions/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing resolution status = %d", rr.Code)
	}

	done := decode[[]storage.CompletedRecord](t, a.do(t, http.MethodGet, "/v1/completed", ""))
	if len(done) != 1 || done[0].ItemID != "i1" {
		t.Errorf("completed = %+v", done)
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=500", 100},
		{"limit=-1", 20},
		{"limit=abc", 20},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
		if got := parseIntParam(r, "limit", 20, 100); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
