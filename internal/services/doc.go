// Package services talks to the hosted backend the offline queue replays into.
//
// # Backend
//
// [Backend] is a small client for a backend-as-a-service REST API (PostgREST style). It sends the project
// key in the apikey header and a bearer token supplied through an [oauth2.StaticTokenSource]; murmur never
// runs an OAuth flow itself, the token comes from config or MURMUR_ACCESS_TOKEN.
//
// It implements [Remote], the capability the drain engine depends on:
//   - CreatePost : creates a post from an [models.OfflinePost] and returns the backend's id
//   - Replay : sends a queued [models.Payload] to its endpoint
//   - Health : probes the health endpoint, used by the connectivity prober
//
// # Error Handling
//
// Failures are classified so the drain engine can decide between retrying and dead-lettering:
//   - [shared.ErrServiceUnavailable] : network errors, 408, 429 and 5xx; retry later
//   - [shared.ErrNotAuthenticated] : 401; retrying will not help until the token is fixed
//   - [shared.ErrPermanent] : any other 4xx; the request itself is rejected
//
// A 409 from CreatePost or Replay means the write already happened and is treated as success.
//
// # Raw API
//
// [APIService] performs raw GET and POST requests with the same credentials, for `murmur api`.
package services
