// Package server exposes the offline queue's read model over a small local HTTP API.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] runs in the order it was added: the first one registered is the outermost wrapper.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Status Handler
//
// [StatusHandler] serves the derived status, the three collections, and a drain trigger:
//
//	GET  /status       queue summary and connectivity
//	GET  /queue        pending operations in replay order
//	GET  /posts        offline posts
//	GET  /dead-letter  operations that were set aside
//	POST /drain        run one drain and return its result
//
// Every read refreshes the snapshots first, so changes made by the CLI or another process are visible.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
