package library

import (
	"regexp"
	"strings"
)

var separators = []string{" - ", " – ", " — ", ": ", " | "}

var videoSuffix = regexp.MustCompile(`(?i)\s*[\(\[]\s*(?:official\s*(?:music\s*video|video|audio|lyric\s*video|visualizer)|lyric\s*video|lyrics?|audio|video|hd|hq|4k|1080p|720p|m/v|mv)\s*[\)\]]\s*$`)

// SplitArtistTitle splits "Artist - Title" on the first separator that
// yields two non-empty halves. Separators are tried in a fixed order.
func SplitArtistTitle(s string) (artist, title string, ok bool) {
	for _, sep := range separators {
		i := strings.Index(s, sep)
		if i < 0 {
			continue
		}
		artist = strings.TrimSpace(s[:i])
		title = strings.TrimSpace(s[i+len(sep):])
		if artist != "" && title != "" {
			return artist, title, true
		}
	}
	return "", "", false
}

// CleanTitle drops trailing video markers such as "(Official Video)".
func CleanTitle(s string) string {
	for {
		next := videoSuffix.ReplaceAllString(s, "")
		if next == s {
			return strings.Join(strings.Fields(s), " ")
		}
		s = next
	}
}
