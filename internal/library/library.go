// Package library answers whether a song is already in the music directory.
package library

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultThreshold is the similarity at which a file counts as the song.
const DefaultThreshold = 0.8

var audioExts = map[string]bool{
	".mp3": true, ".m4a": true, ".opus": true, ".flac": true, ".wav": true,
}

// Library scans one directory for audio files.
type Library struct {
	dir       string
	threshold float64
	logger    *slog.Logger
}

func New(dir string, threshold float64, logger *slog.Logger) *Library {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{dir: dir, threshold: threshold, logger: logger}
}

// Dir is the scanned directory.
func (l *Library) Dir() string { return l.dir }

// Files lists audio file names in the directory. A missing directory is
// an empty library.
func (l *Library) Files() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan library %s: %w", l.dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !audioExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

// Find returns the first file whose stem matches "artist - title". An
// empty artist compares against the title alone.
func (l *Library) Find(artist, title string) (string, bool, error) {
	want := title
	if artist != "" {
		want = artist + " - " + title
	}
	if Normalize(want) == "" {
		return "", false, nil
	}

	files, err := l.Files()
	if err != nil {
		return "", false, err
	}
	for _, f := range files {
		stem := strings.TrimSuffix(f, filepath.Ext(f))
		if score := Similarity(want, stem); score >= l.threshold {
			l.logger.Debug("library match", "want", want, "file", f, "score", score)
			return f, true, nil
		}
	}
	return "", false, nil
}
