// Package game holds the player state the reference server mutates behind the
// ingress pipeline: gold, HP/MP and owned skins.
//
// [Store] has an in-memory implementation for tests and dev mode and a
// Postgres implementation over database/sql and lib/pq. Every mutation is a
// point update by user id. Callers are expected to hold the user's lock, so
// the stores only guarantee per-call atomicity.
package game
