package datapath

import (
	"github.com/mr-karan/kvbridge/pkg/wire"
)

// Decoders dispatch on field number, assert the declared wire type, and
// skip anything unrecognized.

func DecodeSnapshotRead(b []byte) (SnapshotRead, error) {
	var (
		m SnapshotRead
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return SnapshotRead{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return SnapshotRead{}, err
			}
			rr, err := decodeReadRange(rec.Bytes)
			if err != nil {
				return SnapshotRead{}, err
			}
			m.Ranges = append(m.Ranges, rr)
		}
	}
}

func decodeReadRange(b []byte) (ReadRange, error) {
	var (
		m ReadRange
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return ReadRange{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return ReadRange{}, err
			}
			m.Start = rec.Bytes
		case 2:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return ReadRange{}, err
			}
			m.End = rec.Bytes
		case 3:
			if err := rec.Expect(wire.TypeVarint); err != nil {
				return ReadRange{}, err
			}
			m.Limit = uint32(rec.Varint)
		case 4:
			if err := rec.Expect(wire.TypeVarint); err != nil {
				return ReadRange{}, err
			}
			m.Reverse = rec.Varint != 0
		}
	}
}

func DecodeAtomicWrite(b []byte) (AtomicWrite, error) {
	var (
		m AtomicWrite
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return AtomicWrite{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return AtomicWrite{}, err
			}
			c, err := decodeCheck(rec.Bytes)
			if err != nil {
				return AtomicWrite{}, err
			}
			m.Checks = append(m.Checks, c)
		case 2:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return AtomicWrite{}, err
			}
			mu, err := decodeMutation(rec.Bytes)
			if err != nil {
				return AtomicWrite{}, err
			}
			m.Mutations = append(m.Mutations, mu)
		case 3:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return AtomicWrite{}, err
			}
			e, err := decodeEnqueue(rec.Bytes)
			if err != nil {
				return AtomicWrite{}, err
			}
			m.Enqueues = append(m.Enqueues, e)
		}
	}
}

func decodeCheck(b []byte) (Check, error) {
	var (
		m Check
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return Check{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return Check{}, err
			}
			m.Key = rec.Bytes
		case 2:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return Check{}, err
			}
			m.Versionstamp = rec.Bytes
		}
	}
}

func decodeMutation(b []byte) (Mutation, error) {
	var (
		m Mutation
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return Mutation{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return Mutation{}, err
			}
			m.Key = rec.Bytes
		case 2:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return Mutation{}, err
			}
			v, err := decodeKvValue(rec.Bytes)
			if err != nil {
				return Mutation{}, err
			}
			m.Value = &v
		case 3:
			if err := rec.Expect(wire.TypeVarint); err != nil {
				return Mutation{}, err
			}
			m.MutationType = MutationType(rec.Varint)
		case 4:
			if err := rec.Expect(wire.TypeVarint); err != nil {
				return Mutation{}, err
			}
			m.ExpireAtMs = int64(rec.Varint)
		}
	}
}

func decodeKvValue(b []byte) (KvValue, error) {
	var (
		m KvValue
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return KvValue{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return KvValue{}, err
			}
			m.Data = rec.Bytes
		case 2:
			if err := rec.Expect(wire.TypeVarint); err != nil {
				return KvValue{}, err
			}
			m.Encoding = ValueEncoding(rec.Varint)
		}
	}
}

func decodeEnqueue(b []byte) (Enqueue, error) {
	var (
		m Enqueue
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return Enqueue{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return Enqueue{}, err
			}
			m.Payload = rec.Bytes
		case 2:
			if err := rec.Expect(wire.TypeVarint); err != nil {
				return Enqueue{}, err
			}
			m.DeadlineMs = int64(rec.Varint)
		case 3:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return Enqueue{}, err
			}
			m.KeysIfUndelivered = append(m.KeysIfUndelivered, rec.Bytes)
		case 4:
			vs, err := rec.PackedUint32()
			if err != nil {
				return Enqueue{}, err
			}
			m.BackoffSchedule = append(m.BackoffSchedule, vs...)
		}
	}
}

func DecodeWatch(b []byte) (Watch, error) {
	var (
		m Watch
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return Watch{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return Watch{}, err
			}
			wk, err := decodeWatchKey(rec.Bytes)
			if err != nil {
				return Watch{}, err
			}
			m.Keys = append(m.Keys, wk)
		}
	}
}

func decodeWatchKey(b []byte) (WatchKey, error) {
	var (
		m WatchKey
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return WatchKey{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return WatchKey{}, err
			}
			m.Key = rec.Bytes
		}
	}
}

// Output-side decoders, used by clients of the relay and by tests
// asserting the re-encode law.

func DecodeSnapshotReadOutput(b []byte) (SnapshotReadOutput, error) {
	var (
		m SnapshotReadOutput
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return SnapshotReadOutput{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return SnapshotReadOutput{}, err
			}
			ro, err := decodeReadRangeOutput(rec.Bytes)
			if err != nil {
				return SnapshotReadOutput{}, err
			}
			m.Ranges = append(m.Ranges, ro)
		case 2:
			if err := rec.Expect(wire.TypeVarint); err != nil {
				return SnapshotReadOutput{}, err
			}
			m.ReadDisabled = rec.Varint != 0
		case 4:
			if err := rec.Expect(wire.TypeVarint); err != nil {
				return SnapshotReadOutput{}, err
			}
			m.ReadIsStronglyConsistent = rec.Varint != 0
		case 8:
			if err := rec.Expect(wire.TypeVarint); err != nil {
				return SnapshotReadOutput{}, err
			}
			m.Status = SnapshotReadStatus(rec.Varint)
		}
	}
}

func decodeReadRangeOutput(b []byte) (ReadRangeOutput, error) {
	var (
		m ReadRangeOutput
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return ReadRangeOutput{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return ReadRangeOutput{}, err
			}
			e, err := decodeKvEntry(rec.Bytes)
			if err != nil {
				return ReadRangeOutput{}, err
			}
			m.Values = append(m.Values, e)
		}
	}
}

func decodeKvEntry(b []byte) (KvEntry, error) {
	var (
		m KvEntry
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return KvEntry{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return KvEntry{}, err
			}
			m.Key = rec.Bytes
		case 2:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return KvEntry{}, err
			}
			m.Value = rec.Bytes
		case 3:
			if err := rec.Expect(wire.TypeVarint); err != nil {
				return KvEntry{}, err
			}
			m.Encoding = ValueEncoding(rec.Varint)
		case 4:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return KvEntry{}, err
			}
			m.Versionstamp = rec.Bytes
		}
	}
}

func DecodeAtomicWriteOutput(b []byte) (AtomicWriteOutput, error) {
	var (
		m AtomicWriteOutput
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return AtomicWriteOutput{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeVarint); err != nil {
				return AtomicWriteOutput{}, err
			}
			m.Status = AtomicWriteStatus(rec.Varint)
		case 2:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return AtomicWriteOutput{}, err
			}
			m.Versionstamp = rec.Bytes
		case 4:
			vs, err := rec.PackedUint32()
			if err != nil {
				return AtomicWriteOutput{}, err
			}
			m.FailedChecks = append(m.FailedChecks, vs...)
		}
	}
}

func DecodeWatchOutput(b []byte) (WatchOutput, error) {
	var (
		m WatchOutput
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return WatchOutput{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeVarint); err != nil {
				return WatchOutput{}, err
			}
			m.Status = int32(rec.Varint)
		case 2:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return WatchOutput{}, err
			}
			wk, err := decodeWatchKeyOutput(rec.Bytes)
			if err != nil {
				return WatchOutput{}, err
			}
			m.Keys = append(m.Keys, wk)
		}
	}
}

func decodeWatchKeyOutput(b []byte) (WatchKeyOutput, error) {
	var (
		m WatchKeyOutput
		r = wire.NewReader(b)
	)
	for {
		rec, ok, err := r.ReadRecord()
		if err != nil {
			return WatchKeyOutput{}, err
		}
		if !ok {
			return m, nil
		}
		switch rec.Field {
		case 1:
			if err := rec.Expect(wire.TypeVarint); err != nil {
				return WatchKeyOutput{}, err
			}
			m.Changed = rec.Varint != 0
		case 2:
			if err := rec.Expect(wire.TypeLen); err != nil {
				return WatchKeyOutput{}, err
			}
			e, err := decodeKvEntry(rec.Bytes)
			if err != nil {
				return WatchKeyOutput{}, err
			}
			m.EntryIfChanged = &e
		}
	}
}
