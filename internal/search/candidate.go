// Package search holds the candidate model shared by the resolution loop and
// the Resolver that fans queries out to the search backend.
package search

import (
	"fmt"
	"strings"
)

// Candidate is one media result returned by the search backend. Two
// candidates are the same entity when their IDs are equal.
type Candidate struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Uploader        string   `json:"uploader"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	ViewCount       *int64   `json:"view_count,omitempty"`
	UploadDate      string   `json:"upload_date,omitempty"`
	SourceURL       string   `json:"source_url"`
}

// Summary renders the candidate as "title by uploader (Ns, N views)".
func (c Candidate) Summary() string {
	var b strings.Builder
	b.WriteString(c.Title)
	if c.Uploader != "" {
		b.WriteString(" by ")
		b.WriteString(c.Uploader)
	}
	var meta []string
	if c.DurationSeconds != nil {
		meta = append(meta, fmt.Sprintf("%.0fs", *c.DurationSeconds))
	}
	if c.ViewCount != nil {
		meta = append(meta, fmt.Sprintf("%d views", *c.ViewCount))
	}
	if len(meta) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(meta, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// Round records one plan, search and selection cycle.
type Round struct {
	Queries    []string    `json:"queries"`
	Candidates []Candidate `json:"candidates"`
	Reasoning  string      `json:"reasoning"`
	Selected   *Candidate  `json:"selected,omitempty"`
	Confidence float64     `json:"confidence"`
}

// HasSelection reports whether the round picked a candidate.
func (r Round) HasSelection() bool { return r.Selected != nil }
