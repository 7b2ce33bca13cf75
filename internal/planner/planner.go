// Package planner turns a song request into search queries using a text
// generation backend.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slapglif/clippyb/internal/engine"
	"github.com/slapglif/clippyb/internal/llmjson"
	"github.com/slapglif/clippyb/internal/search"
)

// MaxQueries caps the number of queries returned by one planning call.
const MaxQueries = 8

// ErrPlanningFailed means the backend produced no usable query.
var ErrPlanningFailed = errors.New("query planning failed")

// Planner produces search queries for the resolution loop.
type Planner struct {
	gen    engine.Generator
	logger *slog.Logger
}

func New(gen engine.Generator, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{gen: gen, logger: logger}
}

// Plan returns queries for originalQuery. With no prior rounds it asks for
// a first set of variants; otherwise the prompt carries what was already
// tried and why it did not succeed.
func (p *Planner) Plan(ctx context.Context, originalQuery string, prior []search.Round) ([]string, error) {
	prompt := firstRoundPrompt(originalQuery)
	if len(prior) > 0 {
		prompt = refinePrompt(originalQuery, prior)
	}
	return p.generate(ctx, originalQuery, prompt)
}

// PlanBroad asks for a wide set of variants in a single call.
func (p *Planner) PlanBroad(ctx context.Context, originalQuery string) ([]string, error) {
	return p.generate(ctx, originalQuery, broadPrompt(originalQuery))
}

func (p *Planner) generate(ctx context.Context, originalQuery, prompt string) ([]string, error) {
	if strings.TrimSpace(originalQuery) == "" {
		return nil, fmt.Errorf("%w: empty request", ErrPlanningFailed)
	}

	raw, err := p.gen.Generate(ctx, engine.Request{
		System: systemPrompt,
		Prompt: prompt,
		Schema: querySchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlanningFailed, err)
	}

	queries, err := parseQueries(raw)
	if err != nil {
		p.logger.Warn("unparsable planner response", "error", err, "response", raw)
		return nil, fmt.Errorf("%w: %w", ErrPlanningFailed, err)
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: no queries in response", ErrPlanningFailed)
	}

	p.logger.Debug("planned queries", "request", originalQuery, "count", len(queries))
	return queries, nil
}

// parseQueries accepts {"queries": [...]} or a bare array, then trims,
// drops blanks and case-insensitive duplicates, and caps the result.
func parseQueries(raw string) ([]string, error) {
	var obj struct {
		Queries []string `json:"queries"`
	}
	var list []string
	if err := llmjson.Decode(raw, &obj); err == nil && len(obj.Queries) > 0 {
		list = obj.Queries
	} else {
		var arr []string
		if arrErr := llmjson.Decode(raw, &arr); arrErr != nil {
			if err != nil {
				return nil, err
			}
			return nil, arrErr
		}
		list = arr
	}

	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, q := range list {
		q = strings.Join(strings.Fields(q), " ")
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == MaxQueries {
			break
		}
	}
	return out, nil
}

func querySchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"queries": {
				Type:        "array",
				Description: "YouTube search queries for the song",
				Items:       &engine.SchemaProperty{Type: "string"},
			},
		},
		Required: []string{"queries"},
	}
}
