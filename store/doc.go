// Package store defines the contract between the arbor mapping engine and a
// hierarchical content store.
//
// A store exposes a tree of nodes addressable by absolute path and by stable
// identifier. Each node carries typed scalar properties (single- or
// multi-valued), an ordered list of child nodes, and a set of named mixin
// capability tags. Mutations are session-scoped: nodes created or changed
// through a Session become durable only when Session.Save is called.
//
// Three implementations ship with arbor: memstore (in-memory, full
// versioning), redistore (Redis-backed) and etcdstore (etcd-backed). The
// mapping engine in the root arbor package is written purely against the
// interfaces in this package, so additional backends can be plugged in
// without touching the engine.
//
// # Namespaces
//
// Property and node names beginning with "sys:" or "mix:" are reserved for
// the store itself (creation timestamps, file content metadata, version
// bookkeeping, mixin tags). IsReservedName reports whether a name falls in
// the reserved range; the mapping engine skips reserved names when reading
// dynamic property maps.
//
// # Versioning
//
// Versioning is optional. Session.VersionManager returns
// ErrVersioningUnsupported from backends without it; callers that only need
// plain mapping never touch the facility.
package store
