// Package classify maps user input onto queue item types.
package classify

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/slapglif/clippyb/internal/queue"
)

var spotifyURI = regexp.MustCompile(`(?i)^spotify:(track|album|playlist):([a-zA-Z0-9]+)$`)

// Classify returns the item type for one line of input. Free text is a
// song name. ok is false for blank input and for URLs on hosts that are
// not supported.
func Classify(text string) (queue.ItemType, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if m := spotifyURI.FindStringSubmatch(text); m != nil {
		return spotifyType(strings.ToLower(m[1])), true
	}

	u, ok := parseURL(text)
	if !ok {
		return queue.TypeSongName, true
	}
	switch Domain(u.Hostname()) {
	case "spotify.com":
		kind, _, ok := spotifyPath(u.Path)
		if !ok {
			return "", false
		}
		return spotifyType(kind), true
	case "youtube.com", "youtu.be":
		return queue.TypeYouTubeURL, true
	case "soundcloud.com":
		if len(pathParts(u.Path)) < 2 {
			return "", false
		}
		return queue.TypeSoundCloudTrack, true
	}
	return "", false
}

// Domain returns the registrable domain of host, such as "spotify.com"
// for "open.spotify.com". Hosts without a public suffix are returned
// lowercased as-is.
func Domain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

// SpotifyID extracts the kind ("track", "album" or "playlist") and ID from
// a Spotify URL or URI.
func SpotifyID(text string) (kind, id string, ok bool) {
	text = strings.TrimSpace(text)
	if m := spotifyURI.FindStringSubmatch(text); m != nil {
		return strings.ToLower(m[1]), m[2], true
	}
	u, ok := parseURL(text)
	if !ok || Domain(u.Hostname()) != "spotify.com" {
		return "", "", false
	}
	return spotifyPath(u.Path)
}

// SpotifyTrackURL is the canonical web URL for a track ID.
func SpotifyTrackURL(id string) string {
	return "https://open.spotify.com/track/" + id
}

// Lines splits pasted text into non-empty trimmed lines.
func Lines(text string) []string {
	var out []string
	for _, l := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' }) {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func spotifyType(kind string) queue.ItemType {
	if kind == "track" {
		return queue.TypeSpotifyTrack
	}
	return queue.TypeSpotifyPlaylist
}

// spotifyPath accepts /track/<id>, /intl-xx/track/<id> and the album and
// playlist forms.
func spotifyPath(p string) (kind, id string, ok bool) {
	parts := pathParts(p)
	if len(parts) > 0 && strings.HasPrefix(parts[0], "intl-") {
		parts = parts[1:]
	}
	if len(parts) < 2 {
		return "", "", false
	}
	switch parts[0] {
	case "track", "album", "playlist":
		return parts[0], parts[1], parts[1] != ""
	}
	return "", "", false
}

func parseURL(text string) (*url.URL, bool) {
	if strings.ContainsAny(text, " \t") {
		return nil, false
	}
	candidate := text
	if !strings.Contains(candidate, "://") {
		if !strings.Contains(candidate, ".") || !strings.Contains(candidate, "/") {
			return nil, false
		}
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

func pathParts(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
