// Package store provides the durable conversation state backing the epoch
// rotation engine: conversations, epochs, per-member epoch wraps, membership
// rows, shared guest links, and messages.
//
// Two implementations exist: a Postgres store built on bun, and an in-memory
// store with the same transactional semantics for development and tests. The
// contract both must honor is the one the rotation engine depends on: the
// rotation commit is a single atomic unit gated by a compare-and-swap on the
// conversation's current epoch, and membership mutations requiring a rotation
// commit inside that same unit. Direct wrap inserts (add-with-history) carry
// the epoch they were built against and fail stale when a rotation got there
// first, so a stored wrap always targets the current epoch.
package store
