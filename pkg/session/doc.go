// Package session persists sign-in state across the federation round-trip.
//
// # Overview
//
// Two kinds of state live here, keyed by session id: the pending login
// written before redirecting to the identity provider (context id, reply
// URL, issued-at), and the authenticated-principal marker written after a
// successful callback. Pending logins are single-use: ConsumePendingLogin
// atomically removes the record it returns, so a replayed callback finds
// nothing.
//
// # Implementations
//
// RedisStore keeps both records in Redis with TTLs and consumes pending
// logins with GETDEL. PostgresStore keeps them in two tables and consumes
// with DELETE ... RETURNING; expired rows are removed by a cron-driven
// Sweeper.
//
// # Replay Guard
//
// ConsumedCache remembers recently consumed context ids in a bounded LRU,
// catching replays that race the store round-trip.
package session
