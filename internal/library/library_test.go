package library

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Rick Astley - Never Gonna Give You Up", "rick astley never gonna give you up"},
		{"The Beatles (1968) - Hey Jude [HD]", "the beatles 1968 hey jude hd"},
		{"Beyoncé  -  Halo", "beyonce halo"},
		{"Sigur Rós — Hoppípolla", "sigur ros hoppipolla"},
		{"  !!!  ", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("Rick Astley", "rick astley"); got != 1 {
		t.Errorf("Similarity(case) = %v, want 1", got)
	}
	if got := Similarity("Never Gonna Give You Up", "Never Gonna Give U Up"); got != 0.8 {
		t.Errorf("Similarity(variant) = %v, want 0.8", got)
	}
	if got := Similarity("", "anything"); got != 0 {
		t.Errorf("Similarity(empty) = %v, want 0", got)
	}
	if got := Similarity("Daft Punk - One More Time", "Queen - Bohemian Rhapsody"); got != 0 {
		t.Errorf("Similarity(unrelated) = %v, want 0", got)
	}
	if got := Similarity("la la la", "la"); got >= DefaultThreshold {
		t.Errorf("Similarity(repeated word) = %v, want below %v", got, DefaultThreshold)
	}
	if got := Similarity("la la", "La La"); got != 1 {
		t.Errorf("Similarity(repeated both sides) = %v, want 1", got)
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"Rick Astley - Never Gonna Give You Up.mp3", "Queen - Bohemian Rhapsody.m4a", "Daft Punk - One More Time.txt", "Sigur Ros - Hoppipolla.opus", "La.flac"} {
		if err := os.WriteFile(filepath.Join(dir, f), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	os.Mkdir(filepath.Join(dir, "Daft Punk - One More Time.mp3"), 0o755)

	lib := New(dir, 0, nil)
	tests := []struct {
		artist, title string
		want          bool
	}{
		{"Rick Astley", "Never Gonna Give You Up", true},
		{"rick astley", "never gonna give you up!", true},
		{"Queen", "Bohemian Rhapsody", true},
		{"Sigur Rós", "Hoppípolla", true},
		{"La", "La La La", false},
		{"Daft Punk", "One More Time", false},
		{"Rick Astley", "Together Forever", false},
		{"", "", false},
	}
	for _, tt := range tests {
		_, got, err := lib.Find(tt.artist, tt.title)
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if got != tt.want {
			t.Errorf("Find(%q, %q) = %v, want %v", tt.artist, tt.title, got, tt.want)
		}
	}
}

func TestFind_MissingDir(t *testing.T) {
	lib := New(filepath.Join(t.TempDir(), "nope"), 0.8, nil)
	if _, ok, err := lib.Find("a", "b"); ok || err != nil {
		t.Errorf("Find = %v, %v; want false, nil", ok, err)
	}
}

func TestSplitArtistTitle(t *testing.T) {
	tests := []struct {
		in            string
		artist, title string
		ok            bool
	}{
		{"Rick Astley - Never Gonna Give You Up", "Rick Astley", "Never Gonna Give You Up", true},
		{"Sigur Rós — Hoppípolla", "Sigur Rós", "Hoppípolla", true},
		{"Artist: Song", "Artist", "Song", true},
		{"Artist | Song", "Artist", "Song", true},
		{" - Song", "", "", false},
		{"Just a title", "", "", false},
	}
	for _, tt := range tests {
		a, ti, ok := SplitArtistTitle(tt.in)
		if a != tt.artist || ti != tt.title || ok != tt.ok {
			t.Errorf("SplitArtistTitle(%q) = %q, %q, %v", tt.in, a, ti, ok)
		}
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Never Gonna Give You Up (Official Music Video)", "Never Gonna Give You Up"},
		{"Halo [HD] (Lyrics)", "Halo"},
		{"Video Killed the Radio Star", "Video Killed the Radio Star"},
	}
	for _, tt := range tests {
		if got := CleanTitle(tt.in); got != tt.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
