package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/slapglif/clippyb/internal/api"
	"github.com/slapglif/clippyb/internal/config"
	"github.com/slapglif/clippyb/internal/coordinator"
	"github.com/slapglif/clippyb/internal/queue"
	"github.com/slapglif/clippyb/internal/storage"
)

// --- enqueue ---

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [text...]",
	Short: "Queue songs or links for download",
	Long: `Queue songs or links for download. Each line is a separate request.

Examples:
  clippyb enqueue "Rick Astley - Never Gonna Give You Up"
  clippyb enqueue https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M
  pbpaste | clippyb enqueue --stdin
  clippyb enqueue --type song_name "https://not-a-link-really"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fromStdin, _ := cmd.Flags().GetBool("stdin")
		typ, _ := cmd.Flags().GetString("type")

		text := strings.Join(args, " ")
		if fromStdin {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			text = string(data)
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("text is required (pass arguments or --stdin)")
		}
		if typ != "" {
			if _, err := queue.ParseItemType(typ); err != nil {
				return err
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/queue/items", api.EnqueueRequest{Text: text, Type: typ})
		if err != nil {
			return err
		}
		var result api.EnqueueResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, it := range result.Items {
			fmt.Printf("%s  %-16s %s\n", colorize(colorCyan, shortID(it.ID)), it.Type, it.DisplayName())
		}
		for _, line := range result.Rejected {
			printWarning("Skipped unsupported input: %s", line)
		}
		printSuccess("Queued %d item(s)", len(result.Items))
		return nil
	},
}

func init() {
	enqueueCmd.Flags().Bool("stdin", false, "read requests from stdin, one per line")
	enqueueCmd.Flags().String("type", "", "force the item type (song_name, youtube_url, spotify_track, ...)")
}

// --- items ---

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "List queue items",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		if status != "" {
			q.Set("status", status)
		}
		q.Set("limit", fmt.Sprint(limit))
		resp, err := client.get(cmd.Context(), "/v1/queue/items?"+q.Encode())
		if err != nil {
			return err
		}
		var items []queue.Item
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}

		if asJSON {
			return printJSON(items)
		}
		if len(items) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for _, it := range items {
			line := fmt.Sprintf("%s  %s  %s",
				colorize(colorCyan, shortID(it.ID)),
				colorize(statusColor(string(it.Status)), fmt.Sprintf("%-11s", it.Status)),
				truncate(it.DisplayName(), 70),
			)
			if msg := it.ErrorText(); msg != "" {
				line += colorize(colorDim, "  ("+truncate(msg, 60)+")")
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	itemsCmd.Flags().String("status", "", "only show items with this status")
	itemsCmd.Flags().Int("limit", 50, "maximum number of items to list")
	itemsCmd.Flags().Bool("json", false, "print raw JSON")
}

// --- retry / clear ---

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Requeue failed items",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/queue/retry", nil)
		if err != nil {
			return err
		}
		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Requeued %d failed item(s)", result["requeued"])
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove completed and skipped items from the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/queue/clear", nil)
		if err != nil {
			return err
		}
		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Removed %d finished item(s)", result["removed"])
		return nil
	},
}

// --- abort / resume ---

var abortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Stop all running downloads and pause the processor",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/queue/abort", nil)
		if err != nil {
			return err
		}
		var result api.AbortResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Cancelled %d item(s), killed %d download(s)", result.Cancelled, result.Killed)
		if result.Reconciled > 0 {
			printStep("Returned %d item(s) to pending", result.Reconciled)
		}
		if result.Paused {
			printWarning("Processor paused; run `clippyb resume` to continue")
		}
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused processor",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/queue/resume", nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Processor resumed")
		return nil
	},
}

// --- resolve ---

var resolveCmd = &cobra.Command{
	Use:   "resolve <query>",
	Short: "Run a search session for a query without downloading",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		verbose, _ := cmd.Flags().GetBool("verbose")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Resolving %q...", query)
		resp, err := client.post(cmd.Context(), "/v1/resolve", api.ResolveRequest{Query: query})
		if err != nil {
			return err
		}
		var res coordinator.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printStatus("Title", "%s", res.Candidate.Title)
		printStatus("Uploader", "%s", res.Candidate.Uploader)
		printStatus("URL", "%s", res.Candidate.SourceURL)
		printStatus("Confidence", "%.2f", res.Confidence)
		printStatus("Outcome", "%s after %d round(s) in %s", res.Session.Outcome, len(res.Session.Rounds), res.Session.Duration.Round(time.Millisecond))

		if verbose {
			for i, r := range res.Session.Rounds {
				fmt.Printf("\n%s\n", colorize(colorBold, fmt.Sprintf("Round %d", i+1)))
				fmt.Printf("  queries:    %s\n", strings.Join(r.Queries, " | "))
				fmt.Printf("  candidates: %d\n", len(r.Candidates))
				if r.Selected != nil {
					fmt.Printf("  selected:   %s (%.2f)\n", r.Selected.Summary(), r.Confidence)
				}
				if r.Reasoning != "" {
					fmt.Printf("  reasoning:  %s\n", r.Reasoning)
				}
			}
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().BoolP("verbose", "v", false, "show every round of the session")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past resolutions and downloads",
}

var historyResolutionsCmd = &cobra.Command{
	Use:   "resolutions",
	Short: "List recent search sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/resolutions?limit=%d", limit))
		if err != nil {
			return err
		}
		var recs []storage.Resolution
		if err := decodeJSON(resp, &recs); err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No resolutions recorded.")
			return nil
		}
		for _, r := range recs {
			fmt.Printf("%s  %s  %-9s %.2f  %s\n",
				colorize(colorCyan, shortID(r.ID)),
				r.CreatedAt.Local().Format("2006-01-02 15:04"),
				r.Outcome,
				r.Confidence,
				truncate(r.Query, 60),
			)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one search session in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/resolutions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var detail any
		if err := decodeJSON(resp, &detail); err != nil {
			return err
		}
		return printJSON(detail)
	},
}

var historyDownloadsCmd = &cobra.Command{
	Use:   "downloads",
	Short: "List recently downloaded files",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/completed?limit=%d", limit))
		if err != nil {
			return err
		}
		var recs []storage.CompletedRecord
		if err := decodeJSON(resp, &recs); err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No downloads recorded.")
			return nil
		}
		for _, r := range recs {
			name := r.Title
			if r.Artist != "" {
				name = r.Artist + " - " + r.Title
			}
			fmt.Printf("%s  %s\n", r.CompletedAt.Local().Format("2006-01-02 15:04"), name)
			fmt.Printf("    %s\n", colorize(colorDim, r.FilePath))
		}
		return nil
	},
}

func init() {
	historyResolutionsCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	historyDownloadsCmd.Flags().Int("limit", 20, "maximum number of downloads to list")
	historyCmd.AddCommand(historyResolutionsCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDownloadsCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return config.ValidKeys(), cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
