package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// Catalog error classes
	ErrAPIRequest    = fmt.Errorf("API request failed")
	ErrRateLimited   = fmt.Errorf("rate limited")
	ErrTransient     = fmt.Errorf("transient service error")
	ErrPermanent     = fmt.Errorf("permanent API error")
	ErrDuplicate     = fmt.Errorf("blocked as duplicate")
	ErrTrackNotFound = fmt.Errorf("track not found")

	// Feed errors
	ErrFeedUnavailable = fmt.Errorf("feed unavailable")
	ErrBrandNotFound   = fmt.Errorf("station not found in brand directory")

	// Engine errors
	ErrQueueFull          = fmt.Errorf("retry queue full")
	ErrInvalidTransition  = fmt.Errorf("invalid state transition")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
