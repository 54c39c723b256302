// Package restcache implements a client-side REST cache and
// synchronization engine: a read-through cache over a JSON HTTP API that
// tracks object/page/list queries by structural identity, refreshes them
// in the background on expiration, and propagates local writes into every
// affected cached query instead of invalidating the whole cache.
//
// A Client is built with New and must be activated with Activate before
// any fetch method will proceed; Deactivate parks new calls until the next
// Activate, without interrupting ones already in flight. FetchOne,
// FetchPage, and FetchList serve reads; InsertMultiple, UpdateMultiple,
// and DeleteMultiple perform writes and propagate their results into
// every other cached query under the same folder. Authenticate, Authorize,
// and RevokeAuthorization manage the per-URL token table the transport
// consults on every request and refreshes on a 401 challenge.
package restcache
