// Package coordinator drives the plan, search and select loop for one song
// request.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/slapglif/clippyb/internal/search"
	"github.com/slapglif/clippyb/internal/selection"
)

// ErrNoMatchFound means no round ever produced a selection.
var ErrNoMatchFound = errors.New("no match found")

// Mode selects how rounds are planned.
type Mode string

const (
	MultiRound Mode = "multi_round"
	SinglePass Mode = "single_pass"
)

// Strategy configures one Coordinator.
type Strategy struct {
	Mode            Mode
	MaxRounds       int
	AcceptThreshold float64
	ForceFallback   bool
}

// DefaultStrategy is three refinement rounds accepting above 0.5.
func DefaultStrategy() Strategy {
	return Strategy{Mode: MultiRound, MaxRounds: 3, AcceptThreshold: 0.5}
}

func (s Strategy) rounds() int {
	if s.Mode == SinglePass || s.MaxRounds < 1 {
		return 1
	}
	return s.MaxRounds
}

// Planner produces queries for a round.
type Planner interface {
	Plan(ctx context.Context, originalQuery string, prior []search.Round) ([]string, error)
	PlanBroad(ctx context.Context, originalQuery string) ([]string, error)
}

// Resolver turns queries into a deduplicated candidate list.
type Resolver interface {
	ResolveMany(ctx context.Context, queries []string) ([]search.Candidate, error)
}

// Selector picks one candidate.
type Selector interface {
	Select(ctx context.Context, originalQuery string, candidates []search.Candidate) (search.Round, error)
}

// Session is the full record of one resolution attempt.
type Session struct {
	OriginalQuery string         `json:"original_query"`
	MaxRounds     int            `json:"max_rounds"`
	Rounds        []search.Round `json:"rounds"`
	Outcome       Outcome        `json:"outcome"`
	Duration      time.Duration  `json:"duration"`
}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeNoMatch   Outcome = "no_match"
	OutcomeAborted   Outcome = "aborted"
)

// Result is the chosen candidate with its session.
type Result struct {
	Candidate  search.Candidate `json:"candidate"`
	Confidence float64          `json:"confidence"`
	Session    Session          `json:"session"`
}

// Coordinator runs sessions. It holds no per-session state and may be
// shared across goroutines.
type Coordinator struct {
	planner  Planner
	resolver Resolver
	selector Selector
	strategy Strategy
	logger   *slog.Logger
}

func New(p Planner, r Resolver, s Selector, strategy Strategy, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{planner: p, resolver: r, selector: s, strategy: strategy, logger: logger}
}

// Strategy returns the configured strategy.
func (c *Coordinator) Strategy() Strategy { return c.strategy }

// Resolve runs one session for query. It returns ErrNoMatchFound when no
// round selected anything, and search.ErrResolverUnavailable unwrapped
// when the search backend cannot be invoked. The session is returned
// alongside any error.
func (c *Coordinator) Resolve(ctx context.Context, query string) (Result, error) {
	start := time.Now()
	maxRounds := c.strategy.rounds()
	sess := Session{OriginalQuery: query, MaxRounds: maxRounds}
	finish := func(o Outcome) Session {
		sess.Outcome = o
		sess.Duration = time.Since(start)
		return sess
	}

	for n := 0; n < maxRounds; n++ {
		if err := ctx.Err(); err != nil {
			return Result{Session: finish(OutcomeAborted)}, err
		}
		final := n == maxRounds-1
		log := c.logger.With("request", query, "round", n+1, "max_rounds", maxRounds)

		queries, err := c.plan(ctx, query, sess.Rounds)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Session: finish(OutcomeAborted)}, ctx.Err()
			}
			log.Warn("planning failed", "error", err)
			sess.Rounds = append(sess.Rounds, search.Round{Reasoning: "planning failed: " + err.Error()})
			continue
		}

		cands, err := c.resolver.ResolveMany(ctx, queries)
		if err != nil {
			if errors.Is(err, search.ErrResolverUnavailable) {
				return Result{Session: finish(OutcomeAborted)}, err
			}
			if ctx.Err() != nil {
				return Result{Session: finish(OutcomeAborted)}, ctx.Err()
			}
			log.Warn("candidate search failed", "error", err)
		}
		if len(cands) == 0 {
			log.Info("no candidates", "queries", len(queries))
			sess.Rounds = append(sess.Rounds, search.Round{Queries: queries, Reasoning: "no candidates"})
			continue
		}

		round, err := c.selector.Select(ctx, query, cands)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Session: finish(OutcomeAborted)}, ctx.Err()
			}
			log.Warn("selection failed", "error", err)
			round = search.Round{Candidates: cands, Reasoning: "selection failed: " + err.Error()}
		}
		// Rounds record the planned queries, not the selector's echo.
		round.Queries = queries
		round.Candidates = cands
		if c.strategy.ForceFallback {
			round = selection.Fallback(round)
		}
		sess.Rounds = append(sess.Rounds, round)

		if round.HasSelection() && (round.Confidence > c.strategy.AcceptThreshold || final) {
			log.Info("candidate accepted", "title", round.Selected.Title, "confidence", round.Confidence)
			return Result{Candidate: *round.Selected, Confidence: round.Confidence, Session: finish(OutcomeAccepted)}, nil
		}
		log.Info("refining", "selected", round.HasSelection(), "confidence", round.Confidence, "reasoning", round.Reasoning)
	}

	best, ok := bestRound(sess.Rounds)
	if !ok {
		return Result{Session: finish(OutcomeNoMatch)}, fmt.Errorf("%w after %d rounds", ErrNoMatchFound, len(sess.Rounds))
	}
	c.logger.Info("rounds exhausted, using best selection",
		"request", query, "title", best.Selected.Title, "confidence", best.Confidence)
	return Result{Candidate: *best.Selected, Confidence: best.Confidence, Session: finish(OutcomeExhausted)}, nil
}

func (c *Coordinator) plan(ctx context.Context, query string, prior []search.Round) ([]string, error) {
	if c.strategy.Mode == SinglePass {
		return c.planner.PlanBroad(ctx, query)
	}
	return c.planner.Plan(ctx, query, prior)
}

// bestRound returns the selected round with the highest confidence. Ties
// go to the earliest round.
func bestRound(rounds []search.Round) (search.Round, bool) {
	var best search.Round
	found := false
	for _, r := range rounds {
		if !r.HasSelection() {
			continue
		}
		if !found || r.Confidence > best.Confidence {
			best, found = r, true
		}
	}
	return best, found
}
