package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/desertthunder/onair/internal/metrics"
	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/shared"
)

// BreakerSettings configures a [BreakerCatalog].
type BreakerSettings struct {
	Name     string
	Failures uint32
	Timeout  time.Duration
	Logger   *log.Logger
}

// BreakerCatalog wraps a [Catalog] with a circuit breaker.
//
// Only transient failures count against the circuit; while it is open every call fails
// with an error wrapping [shared.ErrTransient] without reaching the wrapped client.
type BreakerCatalog struct {
	next Catalog
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// NewBreakerCatalog decorates next.
func NewBreakerCatalog(next Catalog, s BreakerSettings) *BreakerCatalog {
	if s.Name == "" {
		s.Name = "catalog"
	}
	if s.Failures == 0 {
		s.Failures = 5
	}
	if s.Timeout == 0 {
		s.Timeout = time.Minute
	}
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}

	metrics.BreakerState.WithLabelValues(s.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.Failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerCatalog{next: next, cb: cb, name: s.Name}
}

// State returns the breaker state as "closed", "half-open" or "open".
func (b *BreakerCatalog) State() string {
	return b.cb.State().String()
}

func (b *BreakerCatalog) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &APIError{Op: b.name, Kind: KindTransient, Message: "circuit open", Err: err}
	}
	return result, err
}

func cast[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func (b *BreakerCatalog) Search(ctx context.Context, query string, limit int) ([]models.CatalogMatch, error) {
	return cast[[]models.CatalogMatch](b.execute(func() (any, error) {
		return b.next.Search(ctx, query, limit)
	}))
}

func (b *BreakerCatalog) AddItems(ctx context.Context, playlistID string, uris []string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.next.AddItems(ctx, playlistID, uris)
	})
	return err
}

func (b *BreakerCatalog) RemoveAtPositions(ctx context.Context, playlistID, uri string, positions []int) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.next.RemoveAtPositions(ctx, playlistID, uri, positions)
	})
	return err
}

func (b *BreakerCatalog) RemoveAll(ctx context.Context, playlistID string, uris []string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.next.RemoveAll(ctx, playlistID, uris)
	})
	return err
}

func (b *BreakerCatalog) PlaylistItems(ctx context.Context, playlistID string, limit, offset int) (*PlaylistPage, error) {
	return cast[*PlaylistPage](b.execute(func() (any, error) {
		return b.next.PlaylistItems(ctx, playlistID, limit, offset)
	}))
}

func (b *BreakerCatalog) PlaylistSize(ctx context.Context, playlistID string) (int, error) {
	return cast[int](b.execute(func() (any, error) {
		return b.next.PlaylistSize(ctx, playlistID)
	}))
}

// Reauthenticate bypasses the breaker.
func (b *BreakerCatalog) Reauthenticate(ctx context.Context) error {
	return b.next.Reauthenticate(ctx)
}

// Healthy reports the wrapped client's health, or an error while the circuit is open.
func (b *BreakerCatalog) Healthy() error {
	if err := b.next.Healthy(); err != nil {
		return err
	}
	if b.cb.State() == gobreaker.StateOpen {
		return fmt.Errorf("%w: circuit open", shared.ErrServiceUnavailable)
	}
	return nil
}

// Health builds the catalog part of the status snapshot.
func (b *BreakerCatalog) Health() models.CatalogHealth {
	h := models.CatalogHealth{Authenticated: true, Breaker: b.State()}
	if err := b.next.Healthy(); err != nil {
		h.Authenticated = false
		h.Error = err.Error()
	}
	return h
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
