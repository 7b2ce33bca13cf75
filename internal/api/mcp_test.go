package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/slapglif/clippyb/internal/coordinator"
	"github.com/slapglif/clippyb/internal/queue"
	"github.com/slapglif/clippyb/internal/search"
	"github.com/slapglif/clippyb/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *testApp) {
	t.Helper()
	a := newTestApp(t, "")
	return MCPDeps{
		Queue:     a.q,
		Processor: a.proc,
		Resolver:  a.resolver,
		History:   a.store,
		Version:   "test",
	}, a
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if NewMCPServer(deps) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_Enqueue(t *testing.T) {
	deps, a := newTestMCPDeps(t)

	result, err := mcpEnqueue(deps)(context.Background(), makeCallToolRequest("enqueue", map[string]interface{}{
		"text": "never gonna give you up\nhttp://bad.example/1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	text := toolText(t, result)
	if !strings.HasPrefix(text, "Queued 1 item(s)") || !strings.Contains(text, "Skipped unsupported") {
		t.Errorf("text = %q", text)
	}
	if a.q.Len() != 1 {
		t.Errorf("queue length = %d, want 1", a.q.Len())
	}
}

func TestMCPTool_EnqueueValidation(t *testing.T) {
	deps, a := newTestMCPDeps(t)
	handler := mcpEnqueue(deps)

	for _, args := range []map[string]interface{}{
		{},
		{"text": "   "},
		{"text": "song", "type": "flac"},
		{"text": "http://bad.example/only"},
	} {
		result, err := handler(context.Background(), makeCallToolRequest("enqueue", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected tool error, got %q", args, toolText(t, result))
		}
	}
	if a.q.Len() != 0 {
		t.Errorf("queue length = %d, want 0", a.q.Len())
	}
}

func TestMCPTool_QueueStatus(t *testing.T) {
	deps, a := newTestMCPDeps(t)
	a.q.Enqueue(queue.NewItem("x", queue.TypeSongName, nil))

	result, _ := mcpQueueStatus(deps)(context.Background(), makeCallToolRequest("queue_status", nil))
	if text := toolText(t, result); !strings.Contains(text, "1 pending") {
		t.Errorf("text = %q", text)
	}
}

func TestMCPTool_ListItems(t *testing.T) {
	deps, a := newTestMCPDeps(t)
	a.q.EnqueueMany([]queue.Item{
		queue.NewItem("a", queue.TypeSongName, nil),
		queue.NewItem("b", queue.TypeSongName, nil),
		queue.NewItem("c", queue.TypeSongName, nil),
	})
	claimed, _ := a.q.Claim(1)
	claimed[0].Fail("no match found", time.Now())
	a.q.Update(claimed[0])

	result, _ := mcpListItems(deps)(context.Background(), makeCallToolRequest("list_items", map[string]interface{}{
		"status": "failed",
	}))
	var items []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &items); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(items) != 1 || items[0]["name"] != "a" || items[0]["error"] != "no match found" {
		t.Errorf("items = %v", items)
	}

	result, _ = mcpListItems(deps)(context.Background(), makeCallToolRequest("list_items", map[string]interface{}{
		"limit": 2,
	}))
	json.Unmarshal([]byte(toolText(t, result)), &items)
	if len(items) != 2 {
		t.Errorf("limited items = %d, want 2", len(items))
	}
}

func TestMCPTool_RetryFailed(t *testing.T) {
	deps, a := newTestMCPDeps(t)
	a.q.Enqueue(queue.NewItem("a", queue.TypeSongName, nil))
	claimed, _ := a.q.Claim(1)
	claimed[0].Fail("boom", time.Now())
	a.q.Update(claimed[0])

	result, _ := mcpRetryFailed(deps)(context.Background(), makeCallToolRequest("retry_failed", nil))
	if text := toolText(t, result); text != "Requeued 1 failed item(s)" {
		t.Errorf("text = %q", text)
	}
	got, _ := a.q.Get(claimed[0].ID)
	if got.Status != queue.StatusPending || got.RetryCount != 1 {
		t.Errorf("item = %+v, want pending with retry count kept", got)
	}
}

func TestMCPTool_ResolveSong(t *testing.T) {
	deps, a := newTestMCPDeps(t)
	a.resolver.result = coordinator.Result{
		Candidate:  search.Candidate{ID: "abc", Title: "Song", Uploader: "Artist", SourceURL: "https://youtube.com/watch?v=abc"},
		Confidence: 0.75,
		Session:    coordinator.Session{Outcome: coordinator.OutcomeAccepted, Rounds: []search.Round{{}, {}}},
	}

	result, _ := mcpResolveSong(deps)(context.Background(), makeCallToolRequest("resolve_song", map[string]interface{}{
		"query": "artist song",
	}))
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	var out map[string]any
	json.Unmarshal([]byte(toolText(t, result)), &out)
	if out["url"] != "https://youtube.com/watch?v=abc" || out["rounds"] != float64(2) || out["outcome"] != "accepted" {
		t.Errorf("out = %v", out)
	}
}

func TestMCPTool_ResolveSongNoMatch(t *testing.T) {
	deps, a := newTestMCPDeps(t)
	a.resolver.err = coordinator.ErrNoMatchFound
	a.resolver.result = coordinator.Result{Session: coordinator.Session{Rounds: []search.Round{{}, {}, {}}}}

	result, _ := mcpResolveSong(deps)(context.Background(), makeCallToolRequest("resolve_song", map[string]interface{}{
		"query": "zzz",
	}))
	if !result.IsError || !strings.Contains(toolText(t, result), "after 3 round(s)") {
		t.Errorf("result = %+v", result)
	}

	a.resolver.err = errors.New("model offline")
	result, _ = mcpResolveSong(deps)(context.Background(), makeCallToolRequest("resolve_song", map[string]interface{}{
		"query": "zzz",
	}))
	if !result.IsError || !strings.Contains(toolText(t, result), "model offline") {
		t.Errorf("result = %+v", result)
	}
}

func TestMCPResource_Recent(t *testing.T) {
	deps, a := newTestMCPDeps(t)
	a.store.SaveResolution(context.Background(), storage.Resolution{
		ID: "r1", Query: "song", Outcome: "accepted", SelectedURL: "u", Confidence: 0.9, CreatedAt: time.Now(),
	})

	contents, err := mcpResourceRecent(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "clippyb://resolutions/recent"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("content type = %T", contents[0])
	}
	var got []map[string]any
	json.Unmarshal([]byte(tc.Text), &got)
	if len(got) != 1 || got[0]["query"] != "song" || got[0]["outcome"] != "accepted" {
		t.Errorf("resource = %v", got)
	}
}
