package resolve

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/slapglif/clippyb/internal/coordinator"
	"github.com/slapglif/clippyb/internal/library"
	"github.com/slapglif/clippyb/internal/processor"
	"github.com/slapglif/clippyb/internal/queue"
	"github.com/slapglif/clippyb/internal/search"
	"github.com/slapglif/clippyb/internal/storage"
	"github.com/slapglif/clippyb/internal/trackinfo"
	"github.com/slapglif/clippyb/internal/ytdlp"
)

type fakeCoordinator struct {
	mu      sync.Mutex
	queries []string
	result  coordinator.Result
	err     error
}

func (f *fakeCoordinator) Resolve(_ context.Context, q string) (coordinator.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	res := f.result
	res.Session.OriginalQuery = q
	return res, f.err
}

type fakeFetcher struct {
	info      ytdlp.VideoInfo
	infoErr   error
	err       error
	downloads []ytdlp.DownloadRequest
}

func (f *fakeFetcher) Info(context.Context, string) (ytdlp.VideoInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeFetcher) Download(_ context.Context, req ytdlp.DownloadRequest) (string, error) {
	f.downloads = append(f.downloads, req)
	if f.err != nil {
		return "", f.err
	}
	return filepath.Join(req.Dir, req.Filename()+".mp3"), nil
}

type fakePages struct {
	track    trackinfo.Track
	playlist trackinfo.Playlist
	err      error
	urls     []string
}

func (f *fakePages) SpotifyTrack(_ context.Context, url string) (trackinfo.Track, error) {
	f.urls = append(f.urls, url)
	return f.track, f.err
}

func (f *fakePages) SpotifyPlaylist(_ context.Context, url string) (trackinfo.Playlist, error) {
	f.urls = append(f.urls, url)
	return f.playlist, f.err
}

func (f *fakePages) SoundCloudTrack(_ context.Context, url string) (trackinfo.Track, error) {
	f.urls = append(f.urls, url)
	return f.track, f.err
}

type fakeHistory struct {
	done        map[string]bool
	marked      []storage.CompletedRecord
	resolutions []storage.Resolution
}

func newFakeHistory() *fakeHistory { return &fakeHistory{done: map[string]bool{}} }

func (f *fakeHistory) HasCompleted(_ context.Context, u string) (bool, error) { return f.done[u], nil }

func (f *fakeHistory) MarkCompleted(_ context.Context, r storage.CompletedRecord) error {
	f.done[r.SourceURL] = true
	f.marked = append(f.marked, r)
	return nil
}

func (f *fakeHistory) SaveResolution(_ context.Context, r storage.Resolution) error {
	f.resolutions = append(f.resolutions, r)
	return nil
}

type fixture struct {
	svc     *Service
	coord   *fakeCoordinator
	fetcher *fakeFetcher
	pages   *fakePages
	history *fakeHistory
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		coord: &fakeCoordinator{result: coordinator.Result{
			Candidate: search.Candidate{
				ID:        "dQw4w9WgXcQ",
				Title:     "Rick Astley - Never Gonna Give You Up (Official Music Video)",
				Uploader:  "Rick Astley",
				SourceURL: "https://youtube.com/watch?v=dQw4w9WgXcQ",
			},
			Confidence: 0.9,
			Session:    coordinator.Session{Outcome: coordinator.OutcomeAccepted, Rounds: []search.Round{{}}},
		}},
		fetcher: &fakeFetcher{},
		pages:   &fakePages{},
		history: newFakeHistory(),
		dir:     t.TempDir(),
	}
	f.svc = New(Deps{
		Coordinator: f.coord,
		Fetcher:     f.fetcher,
		Pages:       f.pages,
		History:     f.history,
		Library:     library.New(f.dir, library.DefaultThreshold, nil),
	})
	return f
}

func TestProcess_SongName(t *testing.T) {
	f := newFixture(t)
	item := queue.NewItem("never gonna give you up", queue.TypeSongName, nil)

	if err := f.svc.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(f.coord.queries) != 1 || f.coord.queries[0] != "never gonna give you up" {
		t.Errorf("coordinator queries = %v", f.coord.queries)
	}
	if len(f.fetcher.downloads) != 1 {
		t.Fatalf("downloads = %d, want 1", len(f.fetcher.downloads))
	}
	req := f.fetcher.downloads[0]
	if req.Artist != "Rick Astley" || req.Title != "Never Gonna Give You Up" {
		t.Errorf("download named %q - %q", req.Artist, req.Title)
	}
	if req.URL != "https://youtube.com/watch?v=dQw4w9WgXcQ" || req.Dir != f.dir {
		t.Errorf("download request = %+v", req)
	}
	if !f.history.done[item.URL] || !f.history.done[req.URL] {
		t.Errorf("completed set = %v, want item and candidate urls", f.history.done)
	}
	if len(f.history.resolutions) != 1 || f.history.resolutions[0].Outcome != "accepted" {
		t.Errorf("resolutions = %+v", f.history.resolutions)
	}
}

func TestProcess_CompletedSetSkips(t *testing.T) {
	f := newFixture(t)
	item := queue.NewItem("never gonna give you up", queue.TypeSongName, nil)
	f.history.done[item.URL] = true

	err := f.svc.Process(context.Background(), item)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	if !processor.IsDuplicate(err) {
		t.Error("processor does not treat the error as a duplicate")
	}
	if len(f.coord.queries) != 0 {
		t.Error("coordinator called for a completed item")
	}
}

func TestProcess_CandidateAlreadyFetched(t *testing.T) {
	f := newFixture(t)
	f.history.done["https://youtube.com/watch?v=dQw4w9WgXcQ"] = true

	err := f.svc.Process(context.Background(), queue.NewItem("rick roll", queue.TypeSongName, nil))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	if len(f.fetcher.downloads) != 0 {
		t.Error("downloaded a candidate already in the completed set")
	}
}

func TestProcess_LibraryDuplicate(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(filepath.Join(f.dir, "Rick Astley - Never Gonna Give You Up.mp3"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	err := f.svc.Process(context.Background(), queue.NewItem("Rick Astley - Never Gonna Give You Up", queue.TypeSongName, nil))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	if len(f.coord.queries) != 0 {
		t.Error("searched for a song already in the library")
	}
}

func TestProcess_SpotifyTrack(t *testing.T) {
	f := newFixture(t)
	f.pages.track = trackinfo.Track{Artist: "Rick Astley", Title: "Never Gonna Give You Up"}
	item := queue.NewItem("https://open.spotify.com/intl-de/track/4uLU6hMCjMI75M1A2tKUQC?si=x", queue.TypeSpotifyTrack, nil)

	if err := f.svc.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(f.pages.urls) != 1 || f.pages.urls[0] != "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC" {
		t.Errorf("page urls = %v", f.pages.urls)
	}
	if f.coord.queries[0] != "Rick Astley - Never Gonna Give You Up" {
		t.Errorf("query = %q", f.coord.queries[0])
	}
	req := f.fetcher.downloads[0]
	if req.Artist != "Rick Astley" || req.Title != "Never Gonna Give You Up" {
		t.Errorf("download named %q - %q", req.Artist, req.Title)
	}
}

func TestProcess_SpotifyPlaylistNotExpanded(t *testing.T) {
	f := newFixture(t)
	item := queue.NewItem("https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M", queue.TypeSpotifyPlaylist, nil)

	err := f.svc.Process(context.Background(), item)
	if err == nil || !strings.Contains(err.Error(), "expanded") {
		t.Errorf("err = %v, want expansion error", err)
	}
}

func TestProcess_MetadataSkipsPageFetch(t *testing.T) {
	f := newFixture(t)
	item := queue.NewItem("https://open.spotify.com/track/abc", queue.TypeSpotifyTrack,
		&queue.Metadata{Artist: "Daft Punk", Title: "One More Time"})

	if err := f.svc.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(f.pages.urls) != 0 {
		t.Errorf("page fetched despite metadata: %v", f.pages.urls)
	}
	if f.coord.queries[0] != "Daft Punk - One More Time" {
		t.Errorf("query = %q", f.coord.queries[0])
	}
	if got := f.fetcher.downloads[0]; got.Artist != "Daft Punk" || got.Title != "One More Time" {
		t.Errorf("download named %q - %q", got.Artist, got.Title)
	}
}

func TestProcess_YouTubeDirect(t *testing.T) {
	f := newFixture(t)
	f.fetcher.info = ytdlp.VideoInfo{ID: "abc", Title: "Some Song (Official Audio)", Uploader: "Some Artist - Topic"}
	item := queue.NewItem("https://youtu.be/abc", queue.TypeYouTubeURL, nil)

	if err := f.svc.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(f.coord.queries) != 0 {
		t.Error("direct media URL went through a search session")
	}
	req := f.fetcher.downloads[0]
	if req.URL != item.URL || req.Artist != "Some Artist" || req.Title != "Some Song" {
		t.Errorf("download request = %+v", req)
	}
}

func TestProcess_NoMatch(t *testing.T) {
	f := newFixture(t)
	f.coord.err = coordinator.ErrNoMatchFound
	f.coord.result = coordinator.Result{Session: coordinator.Session{Outcome: coordinator.OutcomeNoMatch}}

	err := f.svc.Process(context.Background(), queue.NewItem("zzzz", queue.TypeSongName, nil))
	if !errors.Is(err, coordinator.ErrNoMatchFound) {
		t.Fatalf("err = %v, want ErrNoMatchFound", err)
	}
	if len(f.history.resolutions) != 1 || f.history.resolutions[0].SelectedURL != "" {
		t.Errorf("resolutions = %+v, want one without selection", f.history.resolutions)
	}
}

func TestProcess_FetchErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"aborted", &ytdlp.DownloadError{Message: "download killed", Err: ytdlp.ErrAborted}, processor.ErrInterrupted},
		{"unavailable", &ytdlp.DownloadError{Message: "video unavailable", Err: ytdlp.ErrVideoUnavailable}, ErrFetchFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fetcher.err = tt.err
			item := queue.NewItem("song", queue.TypeSongName, nil)

			err := f.svc.Process(context.Background(), item)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var de *ytdlp.DownloadError
			if !errors.As(err, &de) {
				t.Error("DownloadError not reachable through the chain")
			}
			if f.history.done[item.URL] {
				t.Error("failed fetch recorded as completed")
			}
		})
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Preview(context.Background(), "  never gonna  ")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if res.Candidate.ID != "dQw4w9WgXcQ" {
		t.Errorf("candidate = %+v", res.Candidate)
	}
	if f.coord.queries[0] != "never gonna" {
		t.Errorf("query = %q", f.coord.queries[0])
	}
	if len(f.fetcher.downloads) != 0 {
		t.Error("Preview downloaded")
	}
	if _, err := f.svc.Preview(context.Background(), " "); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestNameFor(t *testing.T) {
	tests := []struct {
		title, uploader, artist, name string
	}{
		{"Rick Astley - Never Gonna Give You Up (Official Video)", "RickAstleyVEVO", "Rick Astley", "Never Gonna Give You Up"},
		{"Never Gonna Give You Up", "RickAstleyVEVO", "RickAstley", "Never Gonna Give You Up"},
		{"Get Lucky [Audio]", "Daft Punk - Topic", "Daft Punk", "Get Lucky"},
	}
	for _, tt := range tests {
		a, n := NameFor(search.Candidate{Title: tt.title, Uploader: tt.uploader})
		if a != tt.artist || n != tt.name {
			t.Errorf("NameFor(%q, %q) = %q, %q; want %q, %q", tt.title, tt.uploader, a, n, tt.artist, tt.name)
		}
	}
}
