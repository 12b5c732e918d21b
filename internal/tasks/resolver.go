package tasks

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/adrg/strutil"
	strmetrics "github.com/adrg/strutil/metrics"
	"github.com/charmbracelet/log"

	"github.com/desertthunder/onair/internal/metrics"
	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/services"
	"github.com/desertthunder/onair/internal/shared"
)

// Outcome is the result class of a resolution.
type Outcome int

const (
	ResolveFound Outcome = iota
	ResolveNotFound
	ResolveTransient
	ResolvePermanent
	ResolveCanceled
)

func (o Outcome) String() string {
	switch o {
	case ResolveFound:
		return "found"
	case ResolveNotFound:
		return "not_found"
	case ResolveTransient:
		return "transient"
	case ResolvePermanent:
		return "permanent"
	case ResolveCanceled:
		return "canceled"
	default:
		return ""
	}
}

// Resolution is what [Resolver.Resolve] learned about one detection.
type Resolution struct {
	Outcome Outcome
	Match   *models.CatalogMatch
	Query   string // query that produced Match
	Err     error  // set for transient, permanent and canceled outcomes
}

// Reason renders the resolution for a failure record.
func (r Resolution) Reason() string {
	switch r.Outcome {
	case ResolveNotFound:
		return "not found"
	case ResolveTransient, ResolvePermanent, ResolveCanceled:
		if r.Err != nil {
			return r.Err.Error()
		}
	}
	return r.Outcome.String()
}

// Searcher is the catalog capability the resolver needs.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]models.CatalogMatch, error)
}

// Resolver turns radio metadata into a catalog match.
type Resolver struct {
	catalog       Searcher
	minConfidence float64
	logger        *log.Logger
}

// NewResolver creates a resolver. A minConfidence of zero accepts the first candidate.
func NewResolver(catalog Searcher, minConfidence float64, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		catalog:       catalog,
		minConfidence: minConfidence,
		logger:        shared.WithLogger(logger, "component", "resolver"),
	}
}

var (
	parenthesized = regexp.MustCompile(`\([^)]*\)`)
	bracketed     = regexp.MustCompile(`\[[^\]]*\]`)
	featuring     = regexp.MustCompile(`(?i)\s+(feat\.?|ft\.?|featuring)\s.*$`)
)

// CandidateTitles returns the search titles tried for title, in order, without duplicates.
func CandidateTitles(title string) []string {
	original := shared.CollapseSpaces(title)
	noParens := shared.CollapseSpaces(parenthesized.ReplaceAllString(original, ""))
	noExtras := shared.CollapseSpaces(featuring.ReplaceAllString(bracketed.ReplaceAllString(noParens, ""), ""))

	var out []string
	seen := map[string]bool{}
	for _, c := range []string{original, noParens, noExtras} {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Query formats a field-qualified catalog search.
func Query(title, artist string) string {
	return fmt.Sprintf("track:%s artist:%s", title, artist)
}

// Confidence scores how closely a catalog title matches the searched one.
func Confidence(query, candidate string) float64 {
	return strutil.Similarity(strings.ToLower(query), strings.ToLower(candidate), strmetrics.NewJaroWinkler())
}

// Resolve searches the catalog for track, trying progressively cleaned titles.
//
// Only invalid input returns an error; catalog failures are reported through the outcome.
func (r *Resolver) Resolve(ctx context.Context, track models.DetectedTrack) (Resolution, error) {
	title := strings.TrimSpace(track.Title)
	artist := shared.CollapseSpaces(track.Artist)
	if title == "" || artist == "" {
		return Resolution{}, fmt.Errorf("%w: title and artist are required", shared.ErrInvalidInput)
	}

	res := r.resolve(ctx, title, artist)
	metrics.Resolutions.WithLabelValues(res.Outcome.String()).Inc()
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, title, artist string) Resolution {
	for _, candidate := range CandidateTitles(title) {
		query := Query(candidate, artist)
		matches, err := r.catalog.Search(ctx, query, 1)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Debug("search interrupted", "query", query, "error", err)
				return Resolution{Outcome: ResolveCanceled, Query: query, Err: ctx.Err()}
			}
			if services.IsTransient(err) {
				r.logger.Warn("search failed, will retry later", "query", query, "error", err)
				return Resolution{Outcome: ResolveTransient, Query: query, Err: err}
			}
			r.logger.Error("search failed", "query", query, "error", err)
			return Resolution{Outcome: ResolvePermanent, Query: query, Err: err}
		}
		if len(matches) == 0 {
			r.logger.Debug("no results", "query", query)
			continue
		}

		match := matches[0]
		match.Confidence = Confidence(candidate, match.CanonicalTitle)
		if r.minConfidence > 0 && match.Confidence < r.minConfidence {
			r.logger.Debug("candidate below confidence", "query", query, "title", match.CanonicalTitle, "confidence", match.Confidence)
			continue
		}

		r.logger.Info("resolved", "query", query, "id", match.CatalogID, "title", match.CanonicalTitle, "artists", match.ArtistLine())
		return Resolution{Outcome: ResolveFound, Match: &match, Query: query}
	}

	r.logger.Info("no catalog match", "title", title, "artist", artist)
	return Resolution{Outcome: ResolveNotFound}
}
