// Package ytdlp drives the yt-dlp command line tool for candidate search,
// metadata lookup and audio download.
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/slapglif/clippyb/internal/search"
)

const defaultResults = 10

// Client runs yt-dlp. It is safe for concurrent use.
type Client struct {
	path        string
	results     int
	audioFormat string
	logger      *slog.Logger

	mu     sync.Mutex
	active map[*exec.Cmd]struct{}
}

type Option func(*Client)

// WithResults sets how many results each search asks for.
func WithResults(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.results = n
		}
	}
}

// WithAudioFormat sets the --audio-format passed to downloads.
func WithAudioFormat(f string) Option {
	return func(c *Client) {
		if f != "" {
			c.audioFormat = f
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the yt-dlp binary at path ("yt-dlp" when empty).
func New(path string, opts ...Option) *Client {
	if path == "" {
		path = "yt-dlp"
	}
	c := &Client{
		path:        path,
		results:     defaultResults,
		audioFormat: "mp3",
		logger:      slog.Default(),
		active:      make(map[*exec.Cmd]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Available reports ErrNotFound when the binary cannot be located.
func (c *Client) Available() error {
	if _, err := exec.LookPath(c.path); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, c.path)
	}
	return nil
}

// Version returns the output of yt-dlp --version.
func (c *Client) Version(ctx context.Context) (string, error) {
	out, err := c.output(ctx, "--version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// searchEntry is the subset of yt-dlp --dump-json fields used for candidates.
type searchEntry struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Uploader   string   `json:"uploader"`
	Channel    string   `json:"channel"`
	Duration   *float64 `json:"duration"`
	ViewCount  *int64   `json:"view_count"`
	UploadDate string   `json:"upload_date"`
	WebpageURL string   `json:"webpage_url"`
}

func (e searchEntry) candidate() search.Candidate {
	uploader := e.Uploader
	if uploader == "" {
		uploader = e.Channel
	}
	return search.Candidate{
		ID:              e.ID,
		Title:           e.Title,
		Uploader:        uploader,
		DurationSeconds: e.Duration,
		ViewCount:       e.ViewCount,
		UploadDate:      e.UploadDate,
		SourceURL:       "https://youtube.com/watch?v=" + e.ID,
	}
}

// Search runs a YouTube search for query and returns up to the configured
// number of candidates in backend rank order. A missing binary is reported
// as search.ErrResolverUnavailable.
func (c *Client) Search(ctx context.Context, query string) ([]search.Candidate, error) {
	n := fmt.Sprint(c.results)
	out, err := c.output(ctx,
		"--dump-json",
		"--playlist-end", n,
		"--no-download",
		"--no-warnings",
		"ytsearch"+n+":"+query,
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", search.ErrResolverUnavailable, err)
		}
		return nil, err
	}
	return parseSearchOutput(bytes.NewReader(out), c.results)
}

// parseSearchOutput reads one JSON document per line. Lines that fail to
// parse or lack an id are skipped.
func parseSearchOutput(r io.Reader, limit int) ([]search.Candidate, error) {
	var out []search.Candidate
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e searchEntry
		if err := json.Unmarshal(line, &e); err != nil || e.ID == "" {
			continue
		}
		out = append(out, e.candidate())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("reading search output: %w", err)
	}
	return out, nil
}

// VideoInfo describes a single media URL.
type VideoInfo struct {
	ID       string
	Title    string
	Uploader string
	Artist   string
	Track    string
}

// Info fetches metadata for a single video URL without downloading it.
func (c *Client) Info(ctx context.Context, url string) (VideoInfo, error) {
	out, err := c.output(ctx, "--dump-json", "--no-download", "--no-playlist", "--no-warnings", url)
	if err != nil {
		return VideoInfo{}, err
	}
	var raw struct {
		searchEntry
		Artist string `json:"artist"`
		Track  string `json:"track"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(out), &raw); err != nil {
		return VideoInfo{}, &DownloadError{URL: url, Message: "parsing video info", Err: err}
	}
	cand := raw.candidate()
	return VideoInfo{
		ID:       raw.ID,
		Title:    raw.Title,
		Uploader: cand.Uploader,
		Artist:   raw.Artist,
		Track:    raw.Track,
	}, nil
}

// DownloadRequest names the audio to fetch and where to put it.
type DownloadRequest struct {
	URL    string
	Dir    string
	Artist string
	Title  string
}

// Filename returns the sanitized "Artist - Title" stem used for the output file.
func (r DownloadRequest) Filename() string {
	if r.Artist == "" {
		return SanitizeFilename(r.Title)
	}
	return SanitizeFilename(r.Artist) + " - " + SanitizeFilename(r.Title)
}

// Download extracts audio from req.URL into req.Dir and returns the written
// file path. The running process is tracked so AbortAll can kill it.
func (c *Client) Download(ctx context.Context, req DownloadRequest) (string, error) {
	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating music dir: %w", err)
	}
	stem := req.Filename()
	template := filepath.Join(req.Dir, stem+".%(ext)s")

	cmd := exec.CommandContext(ctx, c.path,
		"--extract-audio",
		"--audio-format", c.audioFormat,
		"--audio-quality", "0",
		"--no-playlist",
		"--no-warnings",
		"-o", template,
		req.URL,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if isMissing(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, c.path)
		}
		return "", &DownloadError{URL: req.URL, Message: "starting yt-dlp", Err: err}
	}
	c.track(cmd)
	err := cmd.Wait()
	aborted := c.untrack(cmd)

	if aborted {
		return "", &DownloadError{URL: req.URL, Message: "download killed", Err: ErrAborted}
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", categorize(req.URL, err, stderr.String())
	}

	path := filepath.Join(req.Dir, stem+"."+c.audioFormat)
	if _, err := os.Stat(path); err != nil {
		return "", &DownloadError{URL: req.URL, Message: "downloaded file not found", Err: ErrDownloadFailed}
	}
	c.logger.Info("downloaded", "url", req.URL, "path", path)
	return path, nil
}

func (c *Client) track(cmd *exec.Cmd) {
	c.mu.Lock()
	c.active[cmd] = struct{}{}
	c.mu.Unlock()
}

// untrack removes cmd and reports whether AbortAll already removed it.
func (c *Client) untrack(cmd *exec.Cmd) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[cmd]; !ok {
		return true
	}
	delete(c.active, cmd)
	return false
}

// Active returns the number of downloads in flight.
func (c *Client) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// AbortAll kills every tracked download and clears the tracking set. It
// returns the number of processes signalled. Queue state is not touched.
func (c *Client) AbortAll() int {
	c.mu.Lock()
	cmds := make([]*exec.Cmd, 0, len(c.active))
	for cmd := range c.active {
		cmds = append(cmds, cmd)
	}
	clear(c.active)
	c.mu.Unlock()

	killed := 0
	for _, cmd := range cmds {
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Kill(); err != nil {
			c.logger.Warn("killing yt-dlp process", "pid", cmd.Process.Pid, "error", err)
			continue
		}
		killed++
	}
	return killed
}

func (c *Client) output(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if isMissing(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, c.path)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		url := ""
		if len(args) > 0 {
			url = args[len(args)-1]
		}
		return nil, categorize(url, err, stderr.String())
	}
	return out, nil
}

func isMissing(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false
	}
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// SanitizeFilename replaces characters that are invalid in file names.
func SanitizeFilename(name string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		return r
	}, name))
}
