// Package cache provides an expiring key/value store partitioned into three
// interchangeable tiers, with namespace scoping and type-safe generic reads.
//
// # Tiers
//
// A [Store] routes each operation to one of three tiers:
//
//   - [Ephemeral] — in-process only, lost on restart. Backed by [NewMemory],
//     a sharded map with per-shard locking and zero serialization overhead.
//   - [Session] — survives navigation within one session. Backed by
//     [NewRedis]; values are msgpack-encoded and expire via native Redis
//     TTLs.
//   - [Persistent] — survives restarts. Backed by [NewSQLite]; values are
//     msgpack BLOBs in a WAL-mode database.
//
// Tiers are independent: the same key can hold different entries in
// different tiers at the same time. Tiers left unwired at construction fall
// back to in-memory backends, so a Store with no options is fully
// functional and hermetic.
//
// # Namespaces
//
// Keys are scoped by a namespace prefix ("namespace:key"); [DefaultNamespace]
// applies when none is given. [Store.InvalidateMatching] and
// [Store.ClearNamespace] operate strictly within namespace boundaries.
//
// # Expiry
//
// An entry is valid while now - writtenAt < ttl. Invalid entries are
// logically absent: reads remove them lazily, and a background sweep visits
// every tier on a fixed interval so abandoned keys cannot accumulate.
//
// # Failure handling
//
// The Store never lets a storage failure reach the caller's control flow.
// Reads that fail or decode garbage report a miss (corrupt entries are
// dropped); writes rejected for quota trigger one sweep and one retry, then
// are logged and discarded. Callers treat the cache as advisory.
package cache
