package datapath

import (
	"github.com/mr-karan/kvbridge/pkg/wire"
)

// Encoders write fields in ascending field-number order and omit
// default-valued fields.

func (m SnapshotRead) Encode() []byte {
	w := wire.NewWriter()
	for _, rr := range m.Ranges {
		w.WriteMessageField(1, rr.encode())
	}
	return w.Bytes()
}

func (m ReadRange) encode() []byte {
	w := wire.NewWriter()
	w.WriteBytesField(1, m.Start)
	w.WriteBytesField(2, m.End)
	w.WriteVarintField(3, uint64(m.Limit))
	w.WriteBoolField(4, m.Reverse)
	return w.Bytes()
}

func (m SnapshotReadOutput) Encode() []byte {
	w := wire.NewWriter()
	for _, ro := range m.Ranges {
		w.WriteMessageField(1, ro.encode())
	}
	w.WriteBoolField(2, m.ReadDisabled)
	w.WriteBoolField(4, m.ReadIsStronglyConsistent)
	w.WriteInt64Field(8, int64(m.Status))
	return w.Bytes()
}

func (m ReadRangeOutput) encode() []byte {
	w := wire.NewWriter()
	for _, e := range m.Values {
		w.WriteMessageField(1, e.encode())
	}
	return w.Bytes()
}

func (m KvEntry) encode() []byte {
	w := wire.NewWriter()
	w.WriteBytesField(1, m.Key)
	w.WriteBytesField(2, m.Value)
	w.WriteInt64Field(3, int64(m.Encoding))
	w.WriteBytesField(4, m.Versionstamp)
	return w.Bytes()
}

func (m AtomicWrite) Encode() []byte {
	w := wire.NewWriter()
	for _, c := range m.Checks {
		w.WriteMessageField(1, c.encode())
	}
	for _, mu := range m.Mutations {
		w.WriteMessageField(2, mu.encode())
	}
	for _, e := range m.Enqueues {
		w.WriteMessageField(3, e.encode())
	}
	return w.Bytes()
}

func (m Check) encode() []byte {
	w := wire.NewWriter()
	w.WriteBytesField(1, m.Key)
	w.WriteBytesField(2, m.Versionstamp)
	return w.Bytes()
}

func (m Mutation) encode() []byte {
	w := wire.NewWriter()
	w.WriteBytesField(1, m.Key)
	if m.Value != nil {
		w.WriteMessageField(2, m.Value.encode())
	}
	w.WriteInt64Field(3, int64(m.MutationType))
	w.WriteInt64Field(4, m.ExpireAtMs)
	return w.Bytes()
}

func (m KvValue) encode() []byte {
	w := wire.NewWriter()
	w.WriteBytesField(1, m.Data)
	w.WriteInt64Field(2, int64(m.Encoding))
	return w.Bytes()
}

func (m Enqueue) encode() []byte {
	w := wire.NewWriter()
	w.WriteBytesField(1, m.Payload)
	w.WriteInt64Field(2, m.DeadlineMs)
	for _, k := range m.KeysIfUndelivered {
		w.WriteBytesField(3, k)
	}
	w.WritePackedUint32Field(4, m.BackoffSchedule)
	return w.Bytes()
}

func (m AtomicWriteOutput) Encode() []byte {
	w := wire.NewWriter()
	w.WriteInt64Field(1, int64(m.Status))
	w.WriteBytesField(2, m.Versionstamp)
	w.WritePackedUint32Field(4, m.FailedChecks)
	return w.Bytes()
}

func (m Watch) Encode() []byte {
	w := wire.NewWriter()
	for _, wk := range m.Keys {
		w.WriteMessageField(1, wk.encode())
	}
	return w.Bytes()
}

func (m WatchKey) encode() []byte {
	w := wire.NewWriter()
	w.WriteBytesField(1, m.Key)
	return w.Bytes()
}

func (m WatchOutput) Encode() []byte {
	w := wire.NewWriter()
	w.WriteInt64Field(1, int64(m.Status))
	for _, wk := range m.Keys {
		w.WriteMessageField(2, wk.encode())
	}
	return w.Bytes()
}

func (m WatchKeyOutput) encode() []byte {
	w := wire.NewWriter()
	w.WriteBoolField(1, m.Changed)
	if m.EntryIfChanged != nil {
		w.WriteMessageField(2, m.EntryIfChanged.encode())
	}
	return w.Bytes()
}
