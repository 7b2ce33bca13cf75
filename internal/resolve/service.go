// Package resolve turns a queue item into a file in the music library:
// it derives a search request from the item, runs a resolution session,
// and fetches the chosen candidate.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slapglif/clippyb/internal/classify"
	"github.com/slapglif/clippyb/internal/coordinator"
	"github.com/slapglif/clippyb/internal/library"
	"github.com/slapglif/clippyb/internal/processor"
	"github.com/slapglif/clippyb/internal/queue"
	"github.com/slapglif/clippyb/internal/search"
	"github.com/slapglif/clippyb/internal/storage"
	"github.com/slapglif/clippyb/internal/trackinfo"
	"github.com/slapglif/clippyb/internal/ytdlp"
)

var (
	// ErrFetchFailed wraps a download failure for an accepted candidate.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrAlreadyExists reports that the item is already in the library or
	// the completed set. The processor marks such items skipped.
	ErrAlreadyExists = errors.New("already exists")
)

// Coordinator runs one resolution session.
type Coordinator interface {
	Resolve(ctx context.Context, query string) (coordinator.Result, error)
}

// Fetcher reads media info and downloads audio.
type Fetcher interface {
	Info(ctx context.Context, url string) (ytdlp.VideoInfo, error)
	Download(ctx context.Context, req ytdlp.DownloadRequest) (string, error)
}

// Pages reads track metadata from streaming-service pages.
type Pages interface {
	SpotifyTrack(ctx context.Context, url string) (trackinfo.Track, error)
	SpotifyPlaylist(ctx context.Context, url string) (trackinfo.Playlist, error)
	SoundCloudTrack(ctx context.Context, url string) (trackinfo.Track, error)
}

// History records completed downloads and resolution sessions.
type History interface {
	HasCompleted(ctx context.Context, sourceURL string) (bool, error)
	MarkCompleted(ctx context.Context, r storage.CompletedRecord) error
	SaveResolution(ctx context.Context, r storage.Resolution) error
}

// Library finds existing files in the music directory.
type Library interface {
	Dir() string
	Find(artist, title string) (string, bool, error)
}

// Deps are the collaborators of a Service. History may be nil.
type Deps struct {
	Coordinator Coordinator
	Fetcher     Fetcher
	Pages       Pages
	History     History
	Library     Library
	Logger      *slog.Logger
}

// Service processes queue items. It is safe for concurrent use.
type Service struct {
	coord   Coordinator
	fetcher Fetcher
	pages   Pages
	history History
	library Library
	logger  *slog.Logger
	now     func() time.Time
}

func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		coord:   d.Coordinator,
		fetcher: d.Fetcher,
		pages:   d.Pages,
		history: d.History,
		library: d.Library,
		logger:  logger,
		now:     time.Now,
	}
}

// target is what an item asks for. A non-empty url skips the search
// session. named is set when artist and title came from authoritative
// metadata rather than from the chosen candidate.
type target struct {
	query  string
	url    string
	artist string
	title  string
	named  bool
}

// Process resolves and fetches one item. Duplicates are reported with
// ErrAlreadyExists, aborted downloads with processor.ErrInterrupted.
func (s *Service) Process(ctx context.Context, item queue.Item) error {
	log := s.logger.With("item_id", item.ID, "type", item.Type)

	if err := s.checkCompleted(ctx, item.URL); err != nil {
		return err
	}

	t, err := s.target(ctx, item)
	if err != nil {
		return err
	}
	if t.named {
		if err := s.checkLibrary(t.artist, t.title); err != nil {
			return err
		}
	} else if a, ti, ok := library.SplitArtistTitle(t.query); ok {
		if err := s.checkLibrary(a, ti); err != nil {
			return err
		}
	}

	if t.url == "" {
		res, err := s.resolve(ctx, t.query)
		if err != nil {
			return err
		}
		if err := s.checkCompleted(ctx, res.Candidate.SourceURL); err != nil {
			return err
		}
		if !t.named {
			t.artist, t.title = NameFor(res.Candidate)
			if err := s.checkLibrary(t.artist, t.title); err != nil {
				return err
			}
		}
		t.url = res.Candidate.SourceURL
		log.Info("candidate chosen", "url", t.url, "confidence", res.Confidence)
	}

	path, err := s.fetcher.Download(ctx, ytdlp.DownloadRequest{
		URL:    t.url,
		Dir:    s.library.Dir(),
		Artist: t.artist,
		Title:  t.title,
	})
	if err != nil {
		return fetchError(ctx, err)
	}

	s.markCompleted(ctx, item, t, path)
	log.Info("item fetched", "path", path)
	return nil
}

// Preview runs a resolution session for query without fetching.
func (s *Service) Preview(ctx context.Context, query string) (coordinator.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return coordinator.Result{}, errors.New("empty query")
	}
	return s.resolve(ctx, query)
}

func (s *Service) target(ctx context.Context, item queue.Item) (target, error) {
	if m := item.Metadata; m != nil && m.Title != "" && item.Type != queue.TypeYouTubeURL {
		return target{query: trackinfo.Track{Artist: m.Artist, Title: m.Title}.Query(), artist: m.Artist, title: m.Title, named: true}, nil
	}

	switch item.Type {
	case queue.TypeSongName:
		q := strings.TrimSpace(item.URL)
		if q == "" {
			return target{}, errors.New("empty song name")
		}
		return target{query: q}, nil

	case queue.TypeSpotifyTrack, queue.TypeSpotifyPlaylist:
		kind, id, ok := classify.SpotifyID(item.URL)
		if !ok {
			return target{}, fmt.Errorf("not a Spotify URL: %s", item.URL)
		}
		if kind != "track" {
			return target{}, fmt.Errorf("spotify %s %s must be expanded into tracks before processing", kind, id)
		}
		tr, err := s.pages.SpotifyTrack(ctx, classify.SpotifyTrackURL(id))
		if err != nil {
			return target{}, fmt.Errorf("reading spotify track: %w", err)
		}
		return trackTarget(tr), nil

	case queue.TypeSoundCloudTrack:
		tr, err := s.pages.SoundCloudTrack(ctx, item.URL)
		if err != nil {
			return target{}, fmt.Errorf("reading soundcloud track: %w", err)
		}
		return trackTarget(tr), nil

	case queue.TypeYouTubeURL:
		info, err := s.fetcher.Info(ctx, item.URL)
		if err != nil {
			return target{}, fetchError(ctx, err)
		}
		artist, title := infoName(info)
		return target{url: item.URL, artist: artist, title: title, named: true}, nil
	}
	return target{}, fmt.Errorf("unknown item type %q", item.Type)
}

func trackTarget(tr trackinfo.Track) target {
	return target{query: tr.Query(), artist: tr.Artist, title: tr.Title, named: tr.Title != ""}
}

// resolve runs a session and records it in the history.
func (s *Service) resolve(ctx context.Context, query string) (coordinator.Result, error) {
	res, err := s.coord.Resolve(ctx, query)
	s.saveResolution(ctx, res, err)
	return res, err
}

func (s *Service) saveResolution(ctx context.Context, res coordinator.Result, resolveErr error) {
	if s.history == nil || ctx.Err() != nil {
		return
	}
	sess := res.Session
	if sess.OriginalQuery == "" {
		return
	}
	body, err := json.Marshal(sess)
	if err != nil {
		s.logger.Warn("encoding session", "error", err)
		return
	}
	rec := storage.Resolution{
		ID:          uuid.NewString(),
		Query:       sess.OriginalQuery,
		Outcome:     string(sess.Outcome),
		Rounds:      len(sess.Rounds),
		DurationMs:  sess.Duration.Milliseconds(),
		SessionJSON: string(body),
		CreatedAt:   s.now(),
	}
	if resolveErr == nil {
		rec.SelectedURL = res.Candidate.SourceURL
		rec.Confidence = res.Confidence
	}
	if err := s.history.SaveResolution(ctx, rec); err != nil {
		s.logger.Warn("saving resolution", "query", sess.OriginalQuery, "error", err)
	}
}

func (s *Service) checkCompleted(ctx context.Context, sourceURL string) error {
	if s.history == nil || sourceURL == "" {
		return nil
	}
	done, err := s.history.HasCompleted(ctx, sourceURL)
	if err != nil {
		s.logger.Warn("completed-set lookup failed", "url", sourceURL, "error", err)
		return nil
	}
	if done {
		return fmt.Errorf("%w: %s was downloaded before", ErrAlreadyExists, sourceURL)
	}
	return nil
}

func (s *Service) checkLibrary(artist, title string) error {
	if title == "" {
		return nil
	}
	file, ok, err := s.library.Find(artist, title)
	if err != nil {
		s.logger.Warn("library scan failed", "dir", s.library.Dir(), "error", err)
		return nil
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, file)
	}
	return nil
}

func (s *Service) markCompleted(ctx context.Context, item queue.Item, t target, path string) {
	if s.history == nil {
		return
	}
	urls := []string{item.URL}
	if t.url != item.URL {
		urls = append(urls, t.url)
	}
	for _, u := range urls {
		err := s.history.MarkCompleted(ctx, storage.CompletedRecord{
			SourceURL:   u,
			ItemID:      item.ID,
			Query:       t.query,
			Artist:      t.artist,
			Title:       t.title,
			FilePath:    path,
			CompletedAt: s.now(),
		})
		if err != nil {
			s.logger.Warn("recording completed download", "url", u, "error", err)
		}
	}
}

// NameFor derives the artist and title a candidate is saved under.
func NameFor(c search.Candidate) (artist, title string) {
	cleaned := library.CleanTitle(c.Title)
	if a, t, ok := library.SplitArtistTitle(cleaned); ok {
		return a, t
	}
	return uploaderArtist(c.Uploader), cleaned
}

func infoName(info ytdlp.VideoInfo) (artist, title string) {
	if info.Track != "" {
		return info.Artist, info.Track
	}
	return NameFor(search.Candidate{Title: info.Title, Uploader: info.Uploader})
}

func uploaderArtist(uploader string) string {
	u := strings.TrimSpace(uploader)
	u = strings.TrimSuffix(u, " - Topic")
	if strings.HasSuffix(u, "VEVO") && len(u) > len("VEVO") {
		u = strings.TrimSuffix(u, "VEVO")
	}
	return strings.TrimSpace(u)
}

func fetchError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, ytdlp.ErrAborted):
		return fmt.Errorf("%w: %w", processor.ErrInterrupted, err)
	default:
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
}
