// Package core provides the foundational domain types used by callmesh. It
// defines the core abstractions for:
//
//   - Calls (independently prompted sub-requests extracted from user input)
//   - StreamEvents (immutable events produced by one execution unit's stream)
//   - AttributedEvents (stream events tagged with their originating call)
//
// The package intentionally keeps implementation concerns (parsing, locking,
// retries, multiplexing, engine orchestration) out of scope, exposing small
// value types so the leaf packages stay dependency-free of one another.
package core
