// Package memory implements Grace's tiered memory system on top of a vector
// collection store.
//
// Memories live in three tiers:
//   - short_term:  per-user conversational context, pruned after 24h
//   - medium_term: per-user facts worth keeping, pruned after 30 days
//   - long_term:   global knowledge shared by every user, never auto-pruned
//
// Short and medium term memories share one collection per user and are
// distinguished by the memory_type metadata field. Long-term memories live in
// the global collection; only authorized users may write there directly or via
// the "!grace.learn entity:update" command.
//
// Architecture:
//   - Store:        vector collection backend (chromem-go, see store/chromem)
//   - Embedder:     text-to-vector conversion used by the store
//   - Manager:      collection lifecycle, CRUD per tier, authorization, pruning
//   - EntityLinker: related-memory lookup and "connect new information"
//   - Router:       command detection and ingestion front door
//   - Bridge:       entity extraction, relevance ranking and prompt context
//   - Maintainer:   periodic pruning, merging and entity-graph rebuilds
//
// Every mutation and error is written to an AuditLogger (see package eventlog).
package memory
