package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/onair/internal/shared"
)

// ErrorKind classifies a failed catalog call.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindRateLimited
	KindAuth
	KindDuplicate
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindDuplicate:
		return "duplicate"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindRateLimited:
		return shared.ErrRateLimited
	case KindAuth:
		return shared.ErrAuthFailed
	case KindDuplicate:
		return shared.ErrDuplicate
	case KindPermanent:
		return shared.ErrPermanent
	default:
		return shared.ErrTransient
	}
}

// APIError is a classified catalog failure. It matches the shared sentinel for its kind with [errors.Is].
type APIError struct {
	Op         string
	Kind       ErrorKind
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind.sentinel(), e.Err}
	}
	return []error{e.Kind.sentinel()}
}

// KindOf extracts the [ErrorKind] of err. Errors that are not [APIError] are treated as transient
// unless they are context cancellations, which are permanent for the caller.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Kind
	case errors.Is(err, shared.ErrNotAuthenticated), errors.Is(err, shared.ErrAuthFailed):
		return KindAuth
	case errors.Is(err, shared.ErrDuplicate):
		return KindDuplicate
	case errors.Is(err, shared.ErrPermanent):
		return KindPermanent
	case errors.Is(err, context.Canceled):
		return KindPermanent
	default:
		return KindTransient
	}
}

// IsTransient reports whether a later attempt may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == KindTransient || k == KindRateLimited
}

type spotifyErrorBody struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// classify reads a non-2xx response into an [APIError].
func classify(op string, resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	e := &APIError{Op: op, Status: resp.StatusCode}
	var parsed spotifyErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		e.Message = parsed.Error.Message
	} else {
		e.Message = strings.TrimSpace(string(body))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusUnauthorized:
		e.Kind = KindAuth
	case resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(e.Message), "duplicate"):
		e.Kind = KindDuplicate
	case resp.StatusCode >= 500:
		e.Kind = KindTransient
	default:
		e.Kind = KindPermanent
	}
	return e
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// RetryPolicy bounds the retries made inside a single catalog call.
type RetryPolicy struct {
	Attempts          int
	Base              time.Duration
	Factor            float64
	MaxRateLimitWaits int
}

// DefaultRetryPolicy is three attempts with a 5s base doubling each time.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 5 * time.Second, Factor: 2, MaxRateLimitWaits: 3}
}

// Backoff returns the wait before retry n (0-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	f := p.Factor
	if f < 1 {
		f = 1
	}
	return time.Duration(float64(p.Base) * math.Pow(f, float64(n)))
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default [Sleeper].
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the budget is spent.
//
// Transient failures consume the attempt budget with exponential backoff. Rate-limit
// responses wait for Retry-After (or the backoff) without consuming it, up to MaxRateLimitWaits.
func (p RetryPolicy) Do(ctx context.Context, sleep Sleeper, fn func() error) error {
	if sleep == nil {
		sleep = SleepContext
	}
	attempts := max(p.Attempts, 1)

	var err error
	transient, waits := 0, 0
	for {
		if err = fn(); err == nil {
			return nil
		}

		var wait time.Duration
		switch KindOf(err) {
		case KindTransient:
			transient++
			if transient >= attempts {
				return err
			}
			wait = p.Backoff(transient - 1)
		case KindRateLimited:
			waits++
			if waits > p.MaxRateLimitWaits {
				return err
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				wait = apiErr.RetryAfter
			} else {
				wait = p.Backoff(waits - 1)
			}
		default:
			return err
		}

		if serr := sleep(ctx, wait); serr != nil {
			return errors.Join(err, serr)
		}
	}
}
