package relay

import (
	"context"
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"

	"github.com/mr-karan/kvbridge/pkg/datapath"
	"github.com/mr-karan/kvbridge/pkg/engine"
	"github.com/mr-karan/kvbridge/pkg/tuple"
)

func initTestRelay(t *testing.T) *Relay {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "kvbridge")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	eng, err := engine.Init(engine.WithDir(tmpDir))
	require.NoError(t, err)
	t.Cleanup(eng.Shutdown)

	return New(eng, logf.New(logf.Opts{}))
}

func packKey(t *testing.T, parts ...tuple.Part) []byte {
	t.Helper()
	b, err := tuple.Pack(tuple.Tuple(parts))
	require.NoError(t, err)
	return b
}

func packRange(t *testing.T, m tuple.Mode, parts ...tuple.Part) []byte {
	t.Helper()
	b, err := tuple.PackRange(tuple.Tuple(parts), m)
	require.NoError(t, err)
	return b
}

func le64(n uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return b
}

func doWrite(t *testing.T, r *Relay, req datapath.AtomicWrite) datapath.AtomicWriteOutput {
	t.Helper()
	resp, err := r.AtomicWrite(req.Encode())
	require.NoError(t, err)
	out, err := datapath.DecodeAtomicWriteOutput(resp)
	require.NoError(t, err)
	return out
}

func doRead(t *testing.T, r *Relay, req datapath.SnapshotRead) datapath.SnapshotReadOutput {
	t.Helper()
	resp, err := r.SnapshotRead(req.Encode())
	require.NoError(t, err)
	out, err := datapath.DecodeSnapshotReadOutput(resp)
	require.NoError(t, err)
	return out
}

// Scenario: a range read against an empty store returns one empty range
// with the fixed response fields set.
func TestSnapshotReadEmpty(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = initTestRelay(t)
	)

	out := doRead(t, r, datapath.SnapshotRead{
		Ranges: []datapath.ReadRange{{
			Start: []byte{0x01, 0x00},
			End:   []byte{0x01, 0x00, 0xFF},
		}},
	})

	require.Len(t, out.Ranges, 1)
	assert.Empty(out.Ranges[0].Values)
	assert.False(out.ReadDisabled)
	assert.True(out.ReadIsStronglyConsistent)
	assert.Equal(datapath.SnapshotReadSuccess, out.Status)
}

// Scenario: set a key, read it back through an after/before range pair.
func TestSetThenRead(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = initTestRelay(t)
	)

	key := packKey(t, "a", int64(1))
	wout := doWrite(t, r, datapath.AtomicWrite{
		Mutations: []datapath.Mutation{{
			Key:          key,
			Value:        &datapath.KvValue{Data: []byte{0x68, 0x69}, Encoding: datapath.EncodingBytes},
			MutationType: datapath.MutationSet,
		}},
	})
	assert.Equal(datapath.AtomicWriteSuccess, wout.Status)
	assert.Len(wout.Versionstamp, 10)

	out := doRead(t, r, datapath.SnapshotRead{
		Ranges: []datapath.ReadRange{{
			Start: packRange(t, tuple.ModeAfter, "a"),
			End:   packRange(t, tuple.ModeBefore, "a"),
		}},
	})

	require.Len(t, out.Ranges, 1)
	require.Len(t, out.Ranges[0].Values, 1)

	ent := out.Ranges[0].Values[0]
	assert.Equal(key, ent.Key)
	assert.Equal("hi", string(ent.Value))
	assert.Equal(datapath.EncodingBytes, ent.Encoding)
	assert.Len(ent.Versionstamp, 10)
	assert.Equal(wout.Versionstamp, ent.Versionstamp)
}

// Scenario: a failed check surfaces as a status, not an error, with an
// empty versionstamp.
func TestCheckFailure(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = initTestRelay(t)
	)

	key := packKey(t, "k")
	out := doWrite(t, r, datapath.AtomicWrite{
		Mutations: []datapath.Mutation{{
			Key:          key,
			Value:        &datapath.KvValue{Data: []byte("1"), Encoding: datapath.EncodingBytes},
			MutationType: datapath.MutationSet,
		}},
	})
	require.Equal(t, datapath.AtomicWriteSuccess, out.Status)

	out = doWrite(t, r, datapath.AtomicWrite{
		Checks: []datapath.Check{{Key: key, Versionstamp: make([]byte, 10)}},
		Mutations: []datapath.Mutation{{
			Key:          key,
			Value:        &datapath.KvValue{Data: []byte("2"), Encoding: datapath.EncodingBytes},
			MutationType: datapath.MutationSet,
		}},
	})
	assert.Equal(datapath.AtomicWriteCheckFailure, out.Status)
	assert.Empty(out.Versionstamp)
	assert.Empty(out.FailedChecks)

	// The second write left the value untouched.
	rout := doRead(t, r, datapath.SnapshotRead{
		Ranges: []datapath.ReadRange{{
			Start: packRange(t, tuple.ModeExact, "k"),
			End:   packRange(t, tuple.ModeBefore, "k"),
		}},
	})
	require.Len(t, rout.Ranges[0].Values, 1)
	assert.Equal("1", string(rout.Ranges[0].Values[0].Value))
}

// Scenario: SUM mutations accumulate in LE64 counters.
func TestCounterSum(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = initTestRelay(t)
	)

	key := packKey(t, "c")
	sum := datapath.AtomicWrite{
		Mutations: []datapath.Mutation{{
			Key:          key,
			Value:        &datapath.KvValue{Data: le64(5), Encoding: datapath.EncodingLE64},
			MutationType: datapath.MutationSum,
		}},
	}

	out := doWrite(t, r, sum)
	require.Equal(t, datapath.AtomicWriteSuccess, out.Status)

	read := datapath.SnapshotRead{
		Ranges: []datapath.ReadRange{{
			Start: packRange(t, tuple.ModeExact, "c"),
			End:   packRange(t, tuple.ModeBefore, "c"),
		}},
	}
	rout := doRead(t, r, read)
	require.Len(t, rout.Ranges[0].Values, 1)
	assert.Equal(datapath.EncodingLE64, rout.Ranges[0].Values[0].Encoding)
	assert.Equal(le64(5), rout.Ranges[0].Values[0].Value)

	doWrite(t, r, sum)
	rout = doRead(t, r, read)
	assert.Equal(le64(10), rout.Ranges[0].Values[0].Value)
}

// Scenario: a "before" start selector fails the whole request.
func TestUnsupportedSelector(t *testing.T) {
	r := initTestRelay(t)

	_, err := r.SnapshotRead(datapath.SnapshotRead{
		Ranges: []datapath.ReadRange{{
			Start: packRange(t, tuple.ModeBefore, "a"),
			End:   packRange(t, tuple.ModeBefore, "a"),
		}},
	}.Encode())
	assert.ErrorIs(t, err, ErrBadRequest)
}

// Scenario: a watch frame carries the freshly written entry.
func TestWatchOnChange(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = initTestRelay(t)
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := packKey(t, "w")
	ws, err := r.Watch(ctx, datapath.Watch{Keys: []datapath.WatchKey{{Key: key}}}.Encode())
	require.NoError(t, err)
	defer ws.Close()

	wout := doWrite(t, r, datapath.AtomicWrite{
		Mutations: []datapath.Mutation{{
			Key:          key,
			Value:        &datapath.KvValue{Data: []byte("x"), Encoding: datapath.EncodingBytes},
			MutationType: datapath.MutationSet,
		}},
	})
	require.Equal(t, datapath.AtomicWriteSuccess, wout.Status)

	frame, err := ws.NextFrame(ctx)
	require.NoError(t, err)

	// 4-byte little-endian length, then exactly that many payload bytes.
	require.GreaterOrEqual(t, len(frame), 4)
	n := binary.LittleEndian.Uint32(frame[:4])
	require.Equal(t, int(n), len(frame)-4)

	out, err := datapath.DecodeWatchOutput(frame[4:])
	require.NoError(t, err)
	require.Len(t, out.Keys, 1)
	assert.True(out.Keys[0].Changed)
	require.NotNil(t, out.Keys[0].EntryIfChanged)
	assert.Equal(key, out.Keys[0].EntryIfChanged.Key)
	assert.Equal("x", string(out.Keys[0].EntryIfChanged.Value))
	assert.Equal(wout.Versionstamp, out.Keys[0].EntryIfChanged.Versionstamp)
}

func TestWatchDeletedKeyFrame(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = initTestRelay(t)
	)

	key := packKey(t, "w")
	doWrite(t, r, datapath.AtomicWrite{
		Mutations: []datapath.Mutation{{
			Key:          key,
			Value:        &datapath.KvValue{Data: []byte("x"), Encoding: datapath.EncodingBytes},
			MutationType: datapath.MutationSet,
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws, err := r.Watch(ctx, datapath.Watch{Keys: []datapath.WatchKey{{Key: key}}}.Encode())
	require.NoError(t, err)
	defer ws.Close()

	doWrite(t, r, datapath.AtomicWrite{
		Mutations: []datapath.Mutation{{Key: key, MutationType: datapath.MutationDelete}},
	})

	frame, err := ws.NextFrame(ctx)
	require.NoError(t, err)

	out, err := datapath.DecodeWatchOutput(frame[4:])
	require.NoError(t, err)
	require.Len(t, out.Keys, 1)
	assert.True(out.Keys[0].Changed)
	assert.Nil(out.Keys[0].EntryIfChanged)
}

func TestSnapshotReadOrderingAndLimits(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = initTestRelay(t)
	)

	var muts []datapath.Mutation
	for i := int64(1); i <= 4; i++ {
		muts = append(muts, datapath.Mutation{
			Key:          packKey(t, "list", i),
			Value:        &datapath.KvValue{Data: []byte{byte(i)}, Encoding: datapath.EncodingBytes},
			MutationType: datapath.MutationSet,
		})
	}
	doWrite(t, r, datapath.AtomicWrite{Mutations: muts})

	t.Run("Forward", func(t *testing.T) {
		out := doRead(t, r, datapath.SnapshotRead{
			Ranges: []datapath.ReadRange{{
				Start: packRange(t, tuple.ModeAfter, "list"),
				End:   packRange(t, tuple.ModeBefore, "list"),
			}},
		})
		require.Len(t, out.Ranges[0].Values, 4)
		assert.Equal(packKey(t, "list", int64(1)), out.Ranges[0].Values[0].Key)
		assert.Equal(packKey(t, "list", int64(4)), out.Ranges[0].Values[3].Key)
	})

	t.Run("ReverseWithLimit", func(t *testing.T) {
		out := doRead(t, r, datapath.SnapshotRead{
			Ranges: []datapath.ReadRange{{
				Start:   packRange(t, tuple.ModeAfter, "list"),
				End:     packRange(t, tuple.ModeBefore, "list"),
				Limit:   2,
				Reverse: true,
			}},
		})
		require.Len(t, out.Ranges[0].Values, 2)
		assert.Equal(packKey(t, "list", int64(4)), out.Ranges[0].Values[0].Key)
		assert.Equal(packKey(t, "list", int64(3)), out.Ranges[0].Values[1].Key)
	})

	t.Run("MultipleRangesInRequestOrder", func(t *testing.T) {
		out := doRead(t, r, datapath.SnapshotRead{
			Ranges: []datapath.ReadRange{
				{
					Start: packRange(t, tuple.ModeExact, "list", int64(2)),
					End:   packRange(t, tuple.ModeExact, "list", int64(3)),
				},
				{
					Start: packRange(t, tuple.ModeExact, "list", int64(1)),
					End:   packRange(t, tuple.ModeExact, "list", int64(2)),
				},
			},
		})
		require.Len(t, out.Ranges, 2)
		require.Len(t, out.Ranges[0].Values, 1)
		require.Len(t, out.Ranges[1].Values, 1)
		assert.Equal(packKey(t, "list", int64(2)), out.Ranges[0].Values[0].Key)
		assert.Equal(packKey(t, "list", int64(1)), out.Ranges[1].Values[0].Key)
	})
}

func TestAtomicWriteExpiry(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = initTestRelay(t)
	)

	key := packKey(t, "ttl")
	out := doWrite(t, r, datapath.AtomicWrite{
		Mutations: []datapath.Mutation{{
			Key:          key,
			Value:        &datapath.KvValue{Data: []byte("x"), Encoding: datapath.EncodingBytes},
			MutationType: datapath.MutationSet,
			ExpireAtMs:   time.Now().UnixMilli() - 1000,
		}},
	})
	require.Equal(t, datapath.AtomicWriteSuccess, out.Status)

	// Already expired on arrival: invisible to reads.
	rout := doRead(t, r, datapath.SnapshotRead{
		Ranges: []datapath.ReadRange{{
			Start: packRange(t, tuple.ModeExact, "ttl"),
			End:   packRange(t, tuple.ModeBefore, "ttl"),
		}},
	})
	assert.Empty(rout.Ranges[0].Values)
}

func TestAtomicWriteVersionstampedKey(t *testing.T) {
	var (
		assert = assert.New(t)
		r      = initTestRelay(t)
	)

	out := doWrite(t, r, datapath.AtomicWrite{
		Mutations: []datapath.Mutation{{
			Key:          packKey(t, "log"),
			Value:        &datapath.KvValue{Data: []byte("entry"), Encoding: datapath.EncodingBytes},
			MutationType: datapath.MutationSetSuffixVersionstampedKey,
		}},
	})
	require.Equal(t, datapath.AtomicWriteSuccess, out.Status)

	rout := doRead(t, r, datapath.SnapshotRead{
		Ranges: []datapath.ReadRange{{
			Start: packRange(t, tuple.ModeExact, "log"),
			End:   packRange(t, tuple.ModeBefore, "log"),
		}},
	})
	require.Len(t, rout.Ranges[0].Values, 1)
	assert.Equal(append(packKey(t, "log"), out.Versionstamp...), rout.Ranges[0].Values[0].Key)
}

func TestAtomicWriteBadRequests(t *testing.T) {
	assert := assert.New(t)
	r := initTestRelay(t)

	t.Run("GarbageBody", func(t *testing.T) {
		_, err := r.AtomicWrite([]byte{0x0F})
		assert.ErrorIs(err, ErrBadRequest)
	})

	t.Run("BadTupleKey", func(t *testing.T) {
		_, err := r.AtomicWrite(datapath.AtomicWrite{
			Mutations: []datapath.Mutation{{
				Key:          []byte{0x99},
				Value:        &datapath.KvValue{Data: []byte("x"), Encoding: datapath.EncodingBytes},
				MutationType: datapath.MutationSet,
			}},
		}.Encode())
		assert.ErrorIs(err, ErrBadRequest)
	})

	t.Run("UnknownMutationType", func(t *testing.T) {
		_, err := r.AtomicWrite(datapath.AtomicWrite{
			Mutations: []datapath.Mutation{{
				Key:          packKey(t, "k"),
				MutationType: datapath.MutationType(42),
			}},
		}.Encode())
		assert.ErrorIs(err, ErrBadRequest)
	})

	t.Run("ShortLE64", func(t *testing.T) {
		_, err := r.AtomicWrite(datapath.AtomicWrite{
			Mutations: []datapath.Mutation{{
				Key:          packKey(t, "k"),
				Value:        &datapath.KvValue{Data: []byte{1, 2, 3}, Encoding: datapath.EncodingLE64},
				MutationType: datapath.MutationSet,
			}},
		}.Encode())
		assert.ErrorIs(err, ErrBadRequest)
	})

	t.Run("UnknownEncoding", func(t *testing.T) {
		_, err := r.AtomicWrite(datapath.AtomicWrite{
			Mutations: []datapath.Mutation{{
				Key:          packKey(t, "k"),
				Value:        &datapath.KvValue{Data: []byte("x"), Encoding: datapath.ValueEncoding(9)},
				MutationType: datapath.MutationSet,
			}},
		}.Encode())
		assert.ErrorIs(err, ErrBadRequest)
	})

	t.Run("SumOnBytesValue", func(t *testing.T) {
		key := packKey(t, "plain")
		doWrite(t, r, datapath.AtomicWrite{
			Mutations: []datapath.Mutation{{
				Key:          key,
				Value:        &datapath.KvValue{Data: []byte("x"), Encoding: datapath.EncodingBytes},
				MutationType: datapath.MutationSet,
			}},
		})

		_, err := r.AtomicWrite(datapath.AtomicWrite{
			Mutations: []datapath.Mutation{{
				Key:          key,
				Value:        &datapath.KvValue{Data: le64(1), Encoding: datapath.EncodingLE64},
				MutationType: datapath.MutationSum,
			}},
		}.Encode())
		assert.ErrorIs(err, ErrBadRequest)
	})
}

func TestEnqueueThroughRelay(t *testing.T) {
	assert := assert.New(t)
	r := initTestRelay(t)

	out := doWrite(t, r, datapath.AtomicWrite{
		Enqueues: []datapath.Enqueue{{
			Payload:           []byte{0xFF, 0x0F, 'j'},
			DeadlineMs:        time.Now().UnixMilli() + time.Hour.Milliseconds(),
			KeysIfUndelivered: [][]byte{packKey(t, "dead")},
			BackoffSchedule:   []uint32{100},
		}},
	})
	assert.Equal(datapath.AtomicWriteSuccess, out.Status)
	assert.Equal(1, r.eng.QueueLen())
}

func TestTokenSet(t *testing.T) {
	assert := assert.New(t)

	ts := NewTokenSet()

	tok, expiresAt := ts.Issue(time.Millisecond * 50)
	assert.NotEmpty(tok)
	assert.True(expiresAt.After(time.Now()))
	assert.True(ts.Validate(tok))
	assert.Equal(1, ts.Len())

	assert.False(ts.Validate("not-a-token"))

	t.Run("Expires", func(t *testing.T) {
		assert.Eventually(func() bool { return !ts.Validate(tok) },
			time.Second, time.Millisecond*10)
	})

	t.Run("Revoke", func(t *testing.T) {
		tok2, _ := ts.Issue(time.Hour)
		assert.True(ts.Validate(tok2))
		ts.Revoke(tok2)
		assert.False(ts.Validate(tok2))
	})
}
