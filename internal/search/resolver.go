package search

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/slapglif/clippyb/internal/limiter"
)

// ErrResolverUnavailable means the search capability itself cannot be
// invoked, for example because the external tool is not installed.
var ErrResolverUnavailable = errors.New("candidate search unavailable")

// Searcher runs one free-text query against the search backend. An error
// wrapping ErrResolverUnavailable aborts the whole batch; any other error only
// drops that query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// Resolver turns query lists into deduplicated candidate lists.
type Resolver struct {
	searcher Searcher
	limiter  *limiter.Limiter
	pacer    *rate.Limiter
	logger   *slog.Logger
}

type Option func(*Resolver)

// WithRate paces search calls to at most perSecond starts per second.
func WithRate(perSecond float64) Option {
	return func(r *Resolver) {
		if perSecond > 0 {
			r.pacer = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver. A nil limiter gets a private one of
// limiter.DefaultSize permits.
func NewResolver(s Searcher, l *limiter.Limiter, opts ...Option) *Resolver {
	if l == nil {
		l = limiter.New(0)
	}
	r := &Resolver{searcher: s, limiter: l, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ResolveMany runs every query concurrently and merges the results. Failed
// queries are logged and skipped, so an empty result with a nil error means
// no candidates were found. Duplicates by ID are dropped, keeping the first
// occurrence in query order.
func (r *Resolver) ResolveMany(ctx context.Context, queries []string) ([]Candidate, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	results := make([][]Candidate, len(queries))
	g, gCtx := errgroup.WithContext(ctx)

	for i, q := range queries {
		g.Go(func() error {
			return r.limiter.Do(gCtx, func(ctx context.Context) error {
				if r.pacer != nil {
					if err := r.pacer.Wait(ctx); err != nil {
						return nil
					}
				}
				found, err := r.searcher.Search(ctx, q)
				if err != nil {
					if errors.Is(err, ErrResolverUnavailable) {
						return err
					}
					r.logger.Warn("search query failed", "query", q, "error", err)
					return nil
				}
				results[i] = found
				return nil
			})
		})
	}

	if err := g.Wait(); errors.Is(err, ErrResolverUnavailable) {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return Dedup(results...), nil
}

// Dedup flattens the lists, dropping candidates whose ID was already seen.
func Dedup(lists ...[]Candidate) []Candidate {
	seen := make(map[string]struct{})
	var out []Candidate
	for _, list := range lists {
		for _, c := range list {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
