/*
Package types defines the data model shared across bucketdb: field and
bucket definitions, the stored Record shape, and the persistence
envelope written by the storage adapter contract.

# Core Types

Schema:
  - FieldDef: one field's type, constraints, and generator strategy
  - Definition: an immutable bucket definition fixed at DefineBucket time

Storage:
  - Record: a stored row's fields plus reserved metadata (version,
    created_at, updated_at, expires_at)
  - SnapshotState, EnvelopeMetadata, Envelope: the persistence payload

# Thread Safety

Types in this package carry no synchronization of their own. Definition
is treated as immutable after DefineBucket; Record instances are owned
by exactly one bucket actor at a time. An update stores a new Record
rather than mutating the stored one; reads return the stored pointer,
and only snapshots for the persistence coordinator are cloned.
*/
package types
