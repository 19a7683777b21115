// Package datapath defines the request/response messages of the remote
// datapath protocol and their tag-wire encodings. Field numbers and wire
// types follow the external schema; unknown fields are skipped on decode
// and default-valued fields are omitted on encode.
package datapath

// SnapshotReadStatus reports the outcome of a snapshot read.
type SnapshotReadStatus int32

const (
	SnapshotReadUnspecified  SnapshotReadStatus = 0
	SnapshotReadSuccess      SnapshotReadStatus = 1
	SnapshotReadReadDisabled SnapshotReadStatus = 2
)

// AtomicWriteStatus reports the outcome of an atomic write.
type AtomicWriteStatus int32

const (
	AtomicWriteUnspecified   AtomicWriteStatus = 0
	AtomicWriteSuccess       AtomicWriteStatus = 1
	AtomicWriteCheckFailure  AtomicWriteStatus = 2
	AtomicWriteWriteDisabled AtomicWriteStatus = 5
)

// MutationType selects what an atomic-write mutation does to its key.
type MutationType int32

const (
	MutationUnspecified                MutationType = 0
	MutationSet                        MutationType = 1
	MutationDelete                     MutationType = 2
	MutationSum                        MutationType = 3
	MutationMax                        MutationType = 4
	MutationMin                        MutationType = 5
	MutationSetSuffixVersionstampedKey MutationType = 9
)

// ValueEncoding discriminates how the bytes of a value are to be
// interpreted.
type ValueEncoding int32

const (
	EncodingUnspecified ValueEncoding = 0
	EncodingV8          ValueEncoding = 1
	EncodingLE64        ValueEncoding = 2
	EncodingBytes       ValueEncoding = 3
)

// SnapshotRead is an ordered list of ranges to read in one snapshot.
type SnapshotRead struct {
	Ranges []ReadRange
}

// ReadRange is one half-open interval [Start, End) of encoded range keys.
type ReadRange struct {
	Start   []byte
	End     []byte
	Limit   uint32
	Reverse bool
}

// SnapshotReadOutput carries the per-range results.
type SnapshotReadOutput struct {
	Ranges                   []ReadRangeOutput
	ReadDisabled             bool
	ReadIsStronglyConsistent bool
	Status                   SnapshotReadStatus
}

type ReadRangeOutput struct {
	Values []KvEntry
}

// KvEntry is one stored entry on the wire: the encoded tuple key, the
// value bytes with their encoding, and the raw 10-byte versionstamp.
type KvEntry struct {
	Key          []byte
	Value        []byte
	Encoding     ValueEncoding
	Versionstamp []byte
}

// AtomicWrite groups checks, mutations and enqueues committed together.
type AtomicWrite struct {
	Checks    []Check
	Mutations []Mutation
	Enqueues  []Enqueue
}

// Check asserts the current versionstamp of a key. An empty versionstamp
// expects the key to be absent.
type Check struct {
	Key          []byte
	Versionstamp []byte
}

type Mutation struct {
	Key          []byte
	Value        *KvValue
	MutationType MutationType
	ExpireAtMs   int64
}

type KvValue struct {
	Data     []byte
	Encoding ValueEncoding
}

type Enqueue struct {
	Payload           []byte
	DeadlineMs        int64
	KeysIfUndelivered [][]byte
	BackoffSchedule   []uint32
}

type AtomicWriteOutput struct {
	Status       AtomicWriteStatus
	Versionstamp []byte
	FailedChecks []uint32
}

// Watch subscribes to a set of keys.
type Watch struct {
	Keys []WatchKey
}

type WatchKey struct {
	Key []byte
}

// WatchOutput is one update batch on a watch stream.
type WatchOutput struct {
	Status int32
	Keys   []WatchKeyOutput
}

type WatchKeyOutput struct {
	Changed        bool
	EntryIfChanged *KvEntry
}
