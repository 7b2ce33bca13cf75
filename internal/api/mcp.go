package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/slapglif/clippyb/internal/coordinator"
	"github.com/slapglif/clippyb/internal/queue"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Queue     Queue
	Processor Processor
	Resolver  Resolver
	History   History // optional; the history resource is omitted without it
	Version   string
}

// NewMCPServer creates an MCP server exposing the queue as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"clippyb",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("clippyb resolves song names and streaming links to audio files in the local music library."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("enqueue",
			mcp.WithDescription("Queue songs for download. Each line is a song name or a Spotify, SoundCloud or YouTube link."),
			mcp.WithString("text", mcp.Description("One request per line"), mcp.Required()),
			mcp.WithString("type", mcp.Description("Force the item type: song_name, spotify_track, spotify_playlist, soundcloud_track or youtube_url")),
		),
		mcpEnqueue(deps),
	)

	s.AddTool(
		mcp.NewTool("queue_status",
			mcp.WithDescription("Show how many items are pending, processing, completed and failed."),
		),
		mcpQueueStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_items",
			mcp.WithDescription("List queue items, optionally filtered by status."),
			mcp.WithString("status", mcp.Description("pending, in_progress, completed, failed or skipped")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of items (default 20)")),
		),
		mcpListItems(deps),
	)

	s.AddTool(
		mcp.NewTool("retry_failed",
			mcp.WithDescription("Return every failed item to the pending state."),
		),
		mcpRetryFailed(deps),
	)

	s.AddTool(
		mcp.NewTool("resolve_song",
			mcp.WithDescription("Find the best matching video for a song without downloading it."),
			mcp.WithString("query", mcp.Description("Song name, ideally 'Artist - Title'"), mcp.Required()),
		),
		mcpResolveSong(deps),
	)

	if deps.History != nil {
		s.AddResource(
			mcp.NewResource(
				"clippyb://resolutions/recent",
				"Recent Resolutions",
				mcp.WithResourceDescription("Last 10 resolution sessions"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	return s
}

func mcpEnqueue(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcpError("text is required"), nil
		}
		var typ queue.ItemType
		if raw := req.GetString("type", ""); raw != "" {
			if typ, err = queue.ParseItemType(raw); err != nil {
				return mcpError(err.Error()), nil
			}
		}

		exp, err := deps.Resolver.Expand(ctx, text, typ)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read input: %v", err)), nil
		}
		if len(exp.Items) == 0 {
			return mcpError("nothing to enqueue: unsupported input " + strings.Join(exp.Rejected, ", ")), nil
		}
		if err := deps.Queue.EnqueueMany(exp.Items); err != nil {
			return mcpError(fmt.Sprintf("failed to enqueue: %v", err)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Queued %d item(s)", len(exp.Items))
		for _, it := range exp.Items {
			fmt.Fprintf(&b, "\n- %s (%s, %s)", it.DisplayName(), it.Type, it.ID)
		}
		if len(exp.Rejected) > 0 {
			fmt.Fprintf(&b, "\nSkipped unsupported: %s", strings.Join(exp.Rejected, ", "))
		}
		return mcpText(b.String()), nil
	}
}

func mcpQueueStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpText(deps.Processor.Summary()), nil
	}
}

func mcpListItems(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := queue.Status(req.GetString("status", ""))
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 200 {
			limit = 200
		}

		type itemResult struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			Type       string `json:"type"`
			Status     string `json:"status"`
			RetryCount int    `json:"retry_count"`
			Error      string `json:"error,omitempty"`
		}
		results := []itemResult{}
		for _, it := range deps.Queue.Items() {
			if status != "" && it.Status != status {
				continue
			}
			results = append(results, itemResult{
				ID:         it.ID,
				Name:       it.DisplayName(),
				Type:       string(it.Type),
				Status:     string(it.Status),
				RetryCount: it.RetryCount,
				Error:      it.ErrorText(),
			})
			if len(results) == limit {
				break
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal items: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRetryFailed(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n, err := deps.Queue.RetryFailed()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to requeue: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Requeued %d failed item(s)", n)), nil
	}
}

func mcpResolveSong(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		res, err := deps.Resolver.Preview(ctx, query)
		if errors.Is(err, coordinator.ErrNoMatchFound) {
			return mcpError(fmt.Sprintf("no match for %q after %d round(s)", query, len(res.Session.Rounds))), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("resolution failed: %v", err)), nil
		}

		out := struct {
			Title      string  `json:"title"`
			Uploader   string  `json:"uploader"`
			URL        string  `json:"url"`
			Confidence float64 `json:"confidence"`
			Rounds     int     `json:"rounds"`
			Outcome    string  `json:"outcome"`
		}{
			Title:      res.Candidate.Title,
			Uploader:   res.Candidate.Uploader,
			URL:        res.Candidate.SourceURL,
			Confidence: res.Confidence,
			Rounds:     len(res.Session.Rounds),
			Outcome:    string(res.Session.Outcome),
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		recent, err := deps.History.RecentResolutions(ctx, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent resolutions: %w", err)
		}

		type resolutionSummary struct {
			ID          string  `json:"id"`
			CreatedAt   string  `json:"created_at"`
			Query       string  `json:"query"`
			Outcome     string  `json:"outcome"`
			SelectedURL string  `json:"selected_url,omitempty"`
			Confidence  float64 `json:"confidence"`
		}
		summaries := make([]resolutionSummary, len(recent))
		for i, r := range recent {
			summaries[i] = resolutionSummary{
				ID:          r.ID,
				CreatedAt:   r.CreatedAt.Format(time.RFC3339),
				Query:       r.Query,
				Outcome:     r.Outcome,
				SelectedURL: r.SelectedURL,
				Confidence:  r.Confidence,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal resolutions: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
