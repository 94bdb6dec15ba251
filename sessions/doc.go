// Package sessions holds the session data model and the two pieces of shared
// mutable state in the engine: the Registry (session-id -> session record,
// the single source of truth for live sessions) and the Tracker (per-session
// in-flight operations bound to cancellation tokens).
//
// The registry and tracker are plain constructed values, not process
// globals: every engine instance owns its own pair, which keeps independent
// engines (one per test, one per transport) fully isolated.
//
// # Access discipline
//
// Registry reads hand out deep copies; mutations go through Set or Update so
// no handler can change the canonical record without writing it back.
// Prompt-path interleaving for one session is excluded by the tracker's
// single-flight guard rather than by a registry lock.
//
// # Persistence
//
// Store is the narrow persistence boundary (Load/Save/Delete). The
// memorystore and redisstore subpackages provide the in-process and Redis
// backed implementations; both return ErrNotFound for unknown ids so callers
// can fall through uniformly.
package sessions
