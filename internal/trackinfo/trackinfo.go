// Package trackinfo reads song metadata from public Spotify and SoundCloud
// pages via their Open Graph tags.
package trackinfo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/slapglif/clippyb/internal/classify"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "Mozilla/5.0 (compatible; clippyb/1.0)"
	maxPageBytes     = 2 << 20
	spotifyBaseURL   = "https://open.spotify.com"
)

// ErrNoMetadata means the page was fetched but had no usable tags.
var ErrNoMetadata = errors.New("no track metadata on page")

// Track is an artist and title pair.
type Track struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
}

// Query renders the track as "Artist - Title", or just the title.
func (t Track) Query() string {
	if t.Artist == "" {
		return t.Title
	}
	return t.Artist + " - " + t.Title
}

// Playlist is a Spotify playlist or album page.
type Playlist struct {
	Name   string   `json:"name"`
	Tracks []string `json:"tracks"`
}

// Client fetches and parses pages.
type Client struct {
	http        *http.Client
	userAgent   string
	spotifyBase string
	logger      *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSpotifyBase replaces https://open.spotify.com for page fetches.
func WithSpotifyBase(base string) Option {
	return func(c *Client) { c.spotifyBase = strings.TrimRight(base, "/") }
}

func New(opts ...Option) *Client {
	c := &Client{
		http:        &http.Client{Timeout: defaultTimeout},
		userAgent:   defaultUserAgent,
		spotifyBase: spotifyBaseURL,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) fetch(ctx context.Context, rawURL string) (page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return page{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en")

	resp, err := c.http.Do(req)
	if err != nil {
		return page{}, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return page{}, fmt.Errorf("fetching %s: HTTP %d", rawURL, resp.StatusCode)
	}
	p, err := parsePage(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return page{}, fmt.Errorf("parsing %s: %w", rawURL, err)
	}
	return p, nil
}

// SpotifyTrack reads a track page. The artist comes from
// music:musician_description or the first part of og:description
// ("Rick Astley · Song · 1987").
func (c *Client) SpotifyTrack(ctx context.Context, rawURL string) (Track, error) {
	kind, id, ok := classify.SpotifyID(rawURL)
	if !ok || kind != "track" {
		return Track{}, fmt.Errorf("not a Spotify track: %s", rawURL)
	}
	p, err := c.fetch(ctx, c.spotifyBase+"/track/"+id)
	if err != nil {
		return Track{}, err
	}

	t := Track{Title: p.first("og:title", "twitter:title")}
	t.Artist = p.first("music:musician_description")
	if t.Artist == "" {
		if desc := p.first("og:description", "twitter:description"); desc != "" {
			t.Artist = strings.TrimSpace(strings.Split(desc, "·")[0])
		}
	}
	if t.Title == "" {
		return Track{}, fmt.Errorf("%w: %s", ErrNoMetadata, rawURL)
	}
	c.logger.Debug("spotify track", "url", rawURL, "artist", t.Artist, "title", t.Title)
	return t, nil
}

// SpotifyPlaylist reads the name and track URLs of a playlist or album
// page from its og:title and music:song tags.
func (c *Client) SpotifyPlaylist(ctx context.Context, rawURL string) (Playlist, error) {
	kind, id, ok := classify.SpotifyID(rawURL)
	if !ok || kind == "track" {
		return Playlist{}, fmt.Errorf("not a Spotify playlist or album: %s", rawURL)
	}
	p, err := c.fetch(ctx, c.spotifyBase+"/"+kind+"/"+id)
	if err != nil {
		return Playlist{}, err
	}

	pl := Playlist{Name: p.first("og:title", "twitter:title")}
	seen := make(map[string]bool)
	for _, song := range p.meta["music:song"] {
		if _, tid, ok := classify.SpotifyID(song); ok && !seen[tid] {
			seen[tid] = true
			pl.Tracks = append(pl.Tracks, classify.SpotifyTrackURL(tid))
		}
	}
	if len(pl.Tracks) == 0 {
		return Playlist{}, fmt.Errorf("%w: no tracks listed on %s", ErrNoMetadata, rawURL)
	}
	return pl, nil
}

// SoundCloudTrack reads a track page. When the page cannot be read the
// URL slugs are used instead, so /rick-astley/never-gonna-give-you-up
// becomes "rick astley - never gonna give you up".
func (c *Client) SoundCloudTrack(ctx context.Context, rawURL string) (Track, error) {
	slug, slugErr := soundCloudSlug(rawURL)

	p, err := c.fetch(ctx, rawURL)
	if err == nil {
		t := Track{
			Title:  p.first("og:title", "twitter:title"),
			Artist: p.first("twitter:audio:artist_name", "soundcloud:creator"),
		}
		if t.Title != "" {
			if t.Artist == "" {
				t.Artist = slug.Artist
			}
			return t, nil
		}
		err = fmt.Errorf("%w: %s", ErrNoMetadata, rawURL)
	}
	if slugErr != nil {
		return Track{}, err
	}
	c.logger.Info("soundcloud page unreadable, using url slug", "url", rawURL, "error", err)
	return slug, nil
}

func soundCloudSlug(rawURL string) (Track, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Track{}, err
	}
	var parts []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) < 2 {
		return Track{}, fmt.Errorf("not a SoundCloud track: %s", rawURL)
	}
	unslug := func(s string) string { return strings.Join(strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(s)), " ") }
	return Track{Artist: unslug(parts[0]), Title: unslug(parts[1])}, nil
}
