// Package selection asks the generation backend to pick the best candidate
// for a song request.
package selection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slapglif/clippyb/internal/engine"
	"github.com/slapglif/clippyb/internal/llmjson"
	"github.com/slapglif/clippyb/internal/search"
)

// MaxShown is the number of candidates presented to the backend.
const MaxShown = 10

const systemPrompt = `You are a music search result analyzer. Identify which search result is the requested song. Your output must be ONLY a single JSON object. Do not include any other text, prose, or markdown.`

const analyzeTemplate = `Analyze these YouTube search results for the song: %q

Results:
%s

Respond with a JSON object:
{"query": "<search query you would have used>", "reasoning": "<why this result was selected or why none fits>", "selected_result_index": <N>, "confidence": <0.0-1.0>}

Prioritize:
1. Official artist or label uploads
2. Exact title match
3. High view count
4. Normal song duration (2-5 min)

Use the result number as selected_result_index. Set it to -1 if no result is a good match.`

// Engine scores candidate lists.
type Engine struct {
	gen           engine.Generator
	forceFallback bool
	logger        *slog.Logger
}

type Option func(*Engine)

// WithForceFallback makes a declined selection fall back to the first
// candidate when any candidates exist.
func WithForceFallback(on bool) Option {
	return func(e *Engine) { e.forceFallback = on }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func New(gen engine.Generator, opts ...Option) *Engine {
	e := &Engine{gen: gen, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ForceFallback reports the configured fallback policy.
func (e *Engine) ForceFallback() bool { return e.forceFallback }

type analysis struct {
	Query      string   `json:"query"`
	Reasoning  string   `json:"reasoning"`
	Index      *float64 `json:"selected_result_index"`
	Confidence *float64 `json:"confidence"`
}

// Select returns a round describing the pick. Empty input never reaches
// the backend. The returned round's Selected is always nil or one of the
// given candidates.
func (e *Engine) Select(ctx context.Context, originalQuery string, candidates []search.Candidate) (search.Round, error) {
	round := search.Round{Candidates: candidates}
	if len(candidates) == 0 {
		round.Reasoning = "no candidates"
		return round, nil
	}

	raw, err := e.gen.Generate(ctx, engine.Request{
		System: systemPrompt,
		Prompt: fmt.Sprintf(analyzeTemplate, originalQuery, listCandidates(candidates)),
		Schema: analysisSchema(),
	})
	if err != nil {
		return round, fmt.Errorf("select candidate: %w", err)
	}

	var a analysis
	if err := llmjson.Decode(raw, &a); err != nil {
		e.logger.Warn("unparsable selection response", "error", err, "response", raw)
		round.Reasoning = "unparsable selection response"
		return e.fallback(round), nil
	}

	round.Reasoning = a.Reasoning
	if a.Query != "" {
		round.Queries = []string{a.Query}
	}
	if a.Confidence != nil {
		round.Confidence = clamp(*a.Confidence)
	}

	shown := min(len(candidates), MaxShown)
	if a.Index == nil || *a.Index == -1 {
		return e.fallback(round), nil
	}
	idx := int(*a.Index)
	if float64(idx) != *a.Index || idx < 0 || idx >= shown {
		e.logger.Warn("selection index out of range", "index", *a.Index, "shown", shown)
		round.Confidence = 0
		return e.fallback(round), nil
	}

	picked := candidates[idx]
	round.Selected = &picked
	return round, nil
}

func (e *Engine) fallback(round search.Round) search.Round {
	round.Selected = nil
	if !e.forceFallback {
		return round
	}
	return Fallback(round)
}

// Fallback selects the first candidate of a round that has none selected.
// The forced pick carries zero confidence, so it is only accepted on a
// final round or as the best of an exhausted session. Rounds with a
// selection or without candidates are returned unchanged.
func Fallback(round search.Round) search.Round {
	if round.HasSelection() || len(round.Candidates) == 0 {
		return round
	}
	first := round.Candidates[0]
	round.Selected = &first
	round.Confidence = 0
	if round.Reasoning == "" {
		round.Reasoning = "no confident match"
	}
	round.Reasoning += "; falling back to first result"
	return round
}

func listCandidates(candidates []search.Candidate) string {
	var sb strings.Builder
	for i, c := range candidates[:min(len(candidates), MaxShown)] {
		fmt.Fprintf(&sb, "%d. %s\n", i, c.Summary())
	}
	return strings.TrimRight(sb.String(), "\n")
}

func clamp(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func analysisSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"query":                 {Type: "string"},
			"reasoning":             {Type: "string", Description: "Why the result was chosen or rejected"},
			"selected_result_index": {Type: "integer", Description: "Result number, or -1 for no match"},
			"confidence":            {Type: "number", Description: "0.0 to 1.0"},
		},
		Required: []string{"reasoning", "selected_result_index", "confidence"},
	}
}
