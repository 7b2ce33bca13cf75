package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/slapglif/clippyb/internal/config"
	"github.com/slapglif/clippyb/internal/proxy"
)

func TestLocal_Generate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Format map[string]any `json:"format"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": `{"queries":["q"]}`},
		})
	}))
	defer srv.Close()

	l := NewLocal(srv.URL, "qwen2.5:7b", time.Second)
	out, err := l.Generate(context.Background(), Request{
		System: "you plan searches",
		Prompt: "Rick Astley",
		Schema: &Schema{
			Type: "object",
			Properties: map[string]SchemaProperty{
				"queries": {Type: "array", Items: &SchemaProperty{Type: "string"}},
			},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `{"queries":["q"]}` {
		t.Errorf("Generate = %q", out)
	}
	if got.Model != "qwen2.5:7b" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "Rick Astley" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Format["type"] != "object" {
		t.Errorf("format = %v", got.Format)
	}
	if l.Name() != "local:qwen2.5:7b" {
		t.Errorf("Name = %q", l.Name())
	}
}

func TestHosted_Generate(t *testing.T) {
	var got proxy.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"[\"a\"]"}}]}`)
	}))
	defer srv.Close()

	h := NewHosted(proxy.NewClientWithBaseURL("k", srv.URL), "openai/gpt-4o-mini", 0)
	out, err := h.Generate(context.Background(), Request{Prompt: "p", Schema: &Schema{Type: "object"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `["a"]` {
		t.Errorf("Generate = %q", out)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v", got.ResponseFormat)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestHosted_Prepare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(proxy.ModelList{Data: []proxy.Model{{ID: "openai/gpt-4o-mini"}}})
	}))
	defer srv.Close()

	var buf bytes.Buffer
	h := NewHosted(proxy.NewClientWithBaseURL("k", srv.URL), "openai/gpt-4o-mini", 0)
	if err := h.Prepare(context.Background(), &buf); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !strings.Contains(buf.String(), "available") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	cfg := config.Config{
		Generation: config.GenerationConfig{Backend: config.BackendLocal},
		Ollama:     config.OllamaConfig{BaseURL: "http://localhost:11434", Model: "qwen2.5:7b"},
	}
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := g.(*Local); !ok {
		t.Errorf("New returned %T, want *Local", g)
	}

	cfg.Generation.Backend = config.BackendHosted
	if _, err := New(cfg); err == nil {
		t.Error("expected error for hosted backend without key")
	}

	cfg.OpenRouter = config.OpenRouterConfig{APIKey: "k", Model: "m"}
	g, err = New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := g.(*Hosted); !ok {
		t.Errorf("New returned %T, want *Hosted", g)
	}

	cfg.Generation.Backend = "quantum"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}
