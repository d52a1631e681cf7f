package acebase

import "fmt"

// Error taxonomy for the storage core: NodeNotFound, Truncated (a body that
// ends mid-entry), Corrupt, LockExpired,
// LockConflict, Io, and UnsupportedValue. Grounded on iamNilotpal-ignite's
// pkg/errors (a base error embedded by domain-specific error structs,
// errors.As-friendly via Unwrap), trimmed to plain structs since this
// package's error set is small and fixed and doesn't need a fluent
// With*-builder chain or a details map.

// NodeNotFoundError is returned when a read targets a path with no record.
type NodeNotFoundError struct {
	Path string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("acebase: node not found: %q", e.Path)
}

// truncatedDataError signals that decoding ran out of bytes mid-entry.
// readRecord materializes a record's whole body before any entry is
// decoded, so there is no next chunk to continue into: the decoders return
// this error to their caller unchanged.
type truncatedDataError struct {
	need int
}

func (e *truncatedDataError) Error() string {
	return fmt.Sprintf("acebase: truncated record data, need %d more bytes", e.need)
}

// CorruptError marks on-disk data that cannot be interpreted safely, such as
// an unknown/reserved chunk-table entry type, a key-index reference out of
// range, or a circular parent/child address. Child entries whose
// value_location is DELETED are skipped by the decoders, not reported as
// corrupt.
type CorruptError struct {
	Path   string
	Reason string
}

func (e *CorruptError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("acebase: corrupt record: %s", e.Reason)
	}
	return fmt.Sprintf("acebase: corrupt record at %q: %s", e.Path, e.Reason)
}

// LockExpiredError is returned when a transaction attempts to use a tid whose
// lock has already expired. The tid is poisoned; a fresh tid is required.
type LockExpiredError struct {
	Path string
	Tid  string
}

func (e *LockExpiredError) Error() string {
	return fmt.Sprintf("acebase: lock expired for tid %q on %q", e.Tid, e.Path)
}

// LockConflictError describes a lock request that cannot be granted
// immediately. The lock manager has no non-blocking mode: lock() always
// queues and waits, and nothing in this package returns this error.
type LockConflictError struct {
	Path        string
	WaitingFor  string
	ForWriting  bool
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("acebase: lock conflict on %q (waiting for %q)", e.Path, e.WaitingFor)
}

// IoError wraps a failure from the underlying paged file backend.
type IoError struct {
	Op    string
	Cause error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("acebase: io error during %s: %s", e.Op, e.Cause)
}

func (e *IoError) Unwrap() error { return e.Cause }

// UnsupportedValueError marks a value the codec cannot represent: a value of
// a Go type it has no encoding for (a function, for instance), or an inline
// object/array payload met while decoding.
type UnsupportedValueError struct {
	Reason string
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("acebase: unsupported value: %s", e.Reason)
}
