package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/slapglif/clippyb/internal/api"
	"github.com/slapglif/clippyb/internal/config"
	"github.com/slapglif/clippyb/internal/coordinator"
	"github.com/slapglif/clippyb/internal/engine"
	"github.com/slapglif/clippyb/internal/library"
	"github.com/slapglif/clippyb/internal/limiter"
	"github.com/slapglif/clippyb/internal/ollama"
	"github.com/slapglif/clippyb/internal/planner"
	"github.com/slapglif/clippyb/internal/processor"
	"github.com/slapglif/clippyb/internal/queue"
	"github.com/slapglif/clippyb/internal/resolve"
	"github.com/slapglif/clippyb/internal/search"
	"github.com/slapglif/clippyb/internal/selection"
	"github.com/slapglif/clippyb/internal/storage"
	"github.com/slapglif/clippyb/internal/trackinfo"
	"github.com/slapglif/clippyb/internal/ytdlp"
)

const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the clippyb server and queue processor (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running clippyb server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, queue and tool status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP on stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "clippyb.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "clippyb version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	// Refuse to start next to a live server.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("clippyb is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("clippyb is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	// One process owns the queue file.
	queuePath := cfg.QueuePath()
	lock, err := queue.AcquireLock(queuePath)
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Generation backend readiness.
	gen, err := engine.New(cfg)
	if err != nil {
		return err
	}
	if err := gen.Prepare(ctx, os.Stderr); err != nil {
		return err
	}
	logger.Info("generation backend ready", "backend", gen.Name())

	fetcher := ytdlp.New(cfg.Search.YtdlpPath,
		ytdlp.WithResults(cfg.Search.ResultsPerQuery),
		ytdlp.WithAudioFormat(cfg.Library.AudioFormat),
		ytdlp.WithLogger(logger.With("component", "ytdlp")),
	)
	if err := fetcher.Available(); err != nil {
		printWarning("%v; searches and downloads will fail until it is installed", err)
	} else if v, err := fetcher.Version(ctx); err == nil {
		logger.Info("yt-dlp found", "version", v)
	}

	q, err := queue.Open(queuePath, queue.WithLogger(logger.With("component", "queue")))
	if err != nil {
		return fmt.Errorf("opening queue: %w", err)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	lib := library.New(cfg.Library.MusicDir, cfg.Library.DuplicateThreshold, logger.With("component", "library"))
	if err := os.MkdirAll(lib.Dir(), 0o755); err != nil {
		return fmt.Errorf("creating music directory: %w", err)
	}

	// Search and item processing get separate limiters: an item holding a
	// processor permit must never wait on a permit held by another item.
	searchLimiter := limiter.New(cfg.Search.Concurrency)
	workLimiter := limiter.New(cfg.Queue.Workers)

	resolver := search.NewResolver(fetcher, searchLimiter,
		search.WithRate(cfg.Search.RatePerSecond),
		search.WithLogger(logger.With("component", "search")),
	)
	coord := coordinator.New(
		planner.New(gen, logger.With("component", "planner")),
		resolver,
		selection.New(gen,
			selection.WithForceFallback(cfg.Coordinator.ForceFallback()),
			selection.WithLogger(logger.With("component", "selection")),
		),
		coordinator.Strategy{
			Mode:            coordinator.Mode(cfg.Coordinator.Strategy),
			MaxRounds:       cfg.Coordinator.MaxRounds,
			AcceptThreshold: cfg.Coordinator.AcceptThreshold,
			ForceFallback:   cfg.Coordinator.ForceFallback(),
		},
		logger.With("component", "coordinator"),
	)

	svc := resolve.New(resolve.Deps{
		Coordinator: coord,
		Fetcher:     fetcher,
		Pages:       trackinfo.New(trackinfo.WithLogger(logger.With("component", "trackinfo"))),
		History:     store,
		Library:     lib,
		Logger:      logger.With("component", "resolve"),
	})

	proc := processor.New(q, svc, workLimiter, processor.Options{
		BatchInterval: config.Duration(cfg.Queue.BatchInterval, processor.DefaultBatchInterval),
		IdleInterval:  config.Duration(cfg.Queue.IdleInterval, processor.DefaultIdleInterval),
		MaxRetries:    cfg.Queue.MaxRetries,
		Logger:        logger.With("component", "processor"),
	})

	hub := api.NewHub(api.ProgressSource(proc), api.DefaultEventInterval, logger.With("component", "events"))
	q.OnChange(func(queue.Counts) { hub.Notify() })

	if cfg.Server.APIToken == "" {
		logger.Warn("no API token configured; management endpoints are unauthenticated")
	}
	handler := api.NewAppHandler(api.AppDeps{
		Queue:     q,
		Processor: proc,
		Fetcher:   fetcher,
		Resolver:  svc,
		History:   store,
		Events:    hub,
		Token:     cfg.Server.APIToken,
		Logger:    logger.With("component", "api"),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "clippyb listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return ignoreCanceled(proc.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(hub.Run(gctx))
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Queue:     q,
			Processor: proc,
			Resolver:  svc,
			History:   store,
			Version:   version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		logger.Info("MCP server started (stdio transport)")
	}

	err = g.Wait()

	// Kill whatever yt-dlp processes the cancelled items left behind and
	// hand their items back to pending for the next start.
	if n := fetcher.AbortAll(); n > 0 {
		logger.Info("killed running downloads", "count", n)
	}
	proc.Wait()
	if n, rerr := q.Reconcile(); rerr != nil {
		logger.Error("reconciling queue", "error", rerr)
	} else if n > 0 {
		logger.Info("returned interrupted items to pending", "count", n)
	}
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("clippyb is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop clippyb (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to clippyb (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if running {
		statusResp, err := apiGet(client, serverURL+"/v1/queue/status", cfg.Server.APIToken)
		if err == nil {
			var st api.StatusResponse
			if statusResp.StatusCode == http.StatusOK && json.NewDecoder(statusResp.Body).Decode(&st) == nil {
				printStatus("Queue", "%s", st.Summary)
			}
			statusResp.Body.Close()
		}
	}

	switch cfg.Generation.Backend {
	case config.BackendHosted:
		printStatus("Backend", "hosted (%s)", cfg.OpenRouter.Model)
	default:
		if v, err := ollama.New(cfg.Ollama.BaseURL).Version(ctx); err == nil {
			printStatus("Ollama", "%s running at %s", v, cfg.Ollama.BaseURL)
		} else {
			printStatus("Ollama", "not running")
		}
		printStatus("Model", "%s", cfg.Ollama.Model)
	}

	tool := ytdlp.New(cfg.Search.YtdlpPath)
	if v, err := tool.Version(ctx); err == nil {
		printStatus("yt-dlp", "%s", v)
	} else {
		printStatus("yt-dlp", "not found (%s)", cfg.Search.YtdlpPath)
	}

	printStatus("Strategy", "%s, %d round(s), accept > %.2f", cfg.Coordinator.Strategy, cfg.Coordinator.MaxRounds, cfg.Coordinator.AcceptThreshold)
	printStatus("Music dir", "%s", cfg.Library.MusicDir)
	printStatus("Queue file", "%s", cfg.QueuePath())
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return client.Do(req)
}
