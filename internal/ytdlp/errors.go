package ytdlp

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates yt-dlp is not installed or not on PATH.
	ErrNotFound = errors.New("yt-dlp not found")

	ErrVideoUnavailable = errors.New("video unavailable")
	ErrNetwork          = errors.New("network error")
	ErrUnsupportedURL   = errors.New("url not supported")
	ErrDownloadFailed   = errors.New("download failed")

	// ErrAborted is reported for downloads killed by AbortAll.
	ErrAborted = errors.New("download aborted")
)

// DownloadError wraps a yt-dlp failure with the URL it concerned.
type DownloadError struct {
	URL     string
	Message string
	Err     error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// categorize maps yt-dlp stderr text onto the package sentinels.
func categorize(url string, err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "video unavailable") ||
		strings.Contains(lower, "this video is unavailable") ||
		strings.Contains(lower, "private video"):
		return &DownloadError{URL: url, Message: "video unavailable", Err: ErrVideoUnavailable}
	case strings.Contains(lower, "unsupported url") ||
		strings.Contains(lower, "no suitable extractor"):
		return &DownloadError{URL: url, Message: "url not supported", Err: ErrUnsupportedURL}
	case strings.Contains(lower, "unable to download") ||
		strings.Contains(lower, "connection") ||
		strings.Contains(lower, "network"):
		return &DownloadError{URL: url, Message: "network error", Err: ErrNetwork}
	default:
		detail := strings.TrimSpace(stderr)
		if detail == "" && err != nil {
			detail = err.Error()
		}
		return &DownloadError{URL: url, Message: "yt-dlp failed", Err: fmt.Errorf("%w: %s", ErrDownloadFailed, detail)}
	}
}
