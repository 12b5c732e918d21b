// Package services implements the HTTP clients the engine depends on.
//
// # Catalog
//
// [Catalog] is the playlist API abstraction. [SpotifyService] implements it over the Spotify Web API
// using OAuth2 with automatic token refresh; refreshed tokens are handed to a callback so the
// caller can persist them.
//
// Requests pass through a [rate.Limiter] and a [RetryPolicy]. Failures are classified as [APIError]:
//   - 429 : [KindRateLimited], waits for Retry-After without spending the attempt budget
//   - 5xx, network errors, timeouts : [KindTransient], retried with exponential backoff
//   - 401, failed refresh : [KindAuth], latched until credentials are reloaded
//   - 403 mentioning "duplicate" : [KindDuplicate]
//   - other 4xx : [KindPermanent]
//
// [BreakerCatalog] adds a circuit breaker in front of any Catalog.
//
// # Brand Directory
//
// [BrandDirectory] maps a station slug to the service id the now-playing feed subscribes to.
package services
