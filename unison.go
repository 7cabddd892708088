// Package unison is a unit-of-work engine for relational databases.
//
// A session tracks mapped objects through their lifecycle (transient,
// pending, persistent, deleted, detached) in an identity map, and Flush
// synchronizes all pending changes to the database in one transaction:
// it builds a per-mapper task graph from relationship metadata, orders the
// tasks with a topological sort that tolerates and regroups cycles, runs
// per-relationship dependency processors to propagate key values across
// foreign keys, and executes the resulting INSERT/UPDATE/DELETE plan.
//
// The packages are layered as follows:
//
//   - schema: mapper and relationship metadata, built explicitly into a
//     Registry that is handed to each session.
//   - topo: the dependency sorter, usable on its own.
//   - uow: sessions, the identity map, the task graph and the flush
//     executor.
//   - dialect, dialect/sql: the database driver abstraction and its
//     database/sql implementation.
//   - compiler/load, compiler/gen: YAML schema documents and entity
//     code generation.
package unison
