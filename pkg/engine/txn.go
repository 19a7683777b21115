package engine

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
)

type opType uint8

const (
	opSet opType = iota
	opDelete
	opSum
	opMax
	opMin
	opSetVersionstamped
)

type checkOp struct {
	key          []byte
	versionstamp string // hex, "" expects absence
}

type mutationOp struct {
	typ        opType
	key        []byte
	value      Value
	operand    uint64
	expireAtMs int64
}

type enqueueOp struct {
	payload           []byte
	deadlineMs        int64
	keysIfUndelivered [][]byte
	backoff           []uint32
}

// Txn is a transaction builder. Checks, mutations and enqueues are
// applied at Commit in the exact order they were attached; either the
// whole batch reaches the datafile or none of it does.
type Txn struct {
	e *Engine

	checks   []checkOp
	muts     []mutationOp
	enqueues []enqueueOp
	err      error
}

// Atomic returns a fresh transaction builder.
func (e *Engine) Atomic() *Txn {
	return &Txn{e: e}
}

// Check asserts the current versionstamp of a key, in hex. An empty
// string expects the key to be absent.
func (t *Txn) Check(key []byte, versionstamp string) *Txn {
	t.checks = append(t.checks, checkOp{key: key, versionstamp: versionstamp})
	return t
}

// Set stores a value. A non-zero expireAtMs is the absolute unix
// millisecond past which the entry is invisible; a value in the past
// expires the entry immediately.
func (t *Txn) Set(key []byte, v Value, expireAtMs int64) *Txn {
	if err := validateKV(key, v.payload()); err != nil {
		t.fail(err)
		return t
	}
	t.muts = append(t.muts, mutationOp{typ: opSet, key: key, value: v, expireAtMs: expireAtMs})
	return t
}

// SetSuffixVersionstampedKey stores a value under key with the 10
// commit-versionstamp bytes appended, assigned at commit time.
func (t *Txn) SetSuffixVersionstampedKey(key []byte, v Value, expireAtMs int64) *Txn {
	if err := validateKV(key, v.payload()); err != nil {
		t.fail(err)
		return t
	}
	t.muts = append(t.muts, mutationOp{typ: opSetVersionstamped, key: key, value: v, expireAtMs: expireAtMs})
	return t
}

// Delete removes a key.
func (t *Txn) Delete(key []byte) *Txn {
	if len(key) == 0 {
		t.fail(ErrEmptyKey)
		return t
	}
	t.muts = append(t.muts, mutationOp{typ: opDelete, key: key})
	return t
}

// Sum adds the operand to the counter stored under key, wrapping on
// overflow. An absent key counts as zero.
func (t *Txn) Sum(key []byte, operand uint64) *Txn {
	t.muts = append(t.muts, mutationOp{typ: opSum, key: key, operand: operand})
	return t
}

// Max stores the larger of the operand and the current counter.
func (t *Txn) Max(key []byte, operand uint64) *Txn {
	t.muts = append(t.muts, mutationOp{typ: opMax, key: key, operand: operand})
	return t
}

// Min stores the smaller of the operand and the current counter. An
// absent key takes the operand.
func (t *Txn) Min(key []byte, operand uint64) *Txn {
	t.muts = append(t.muts, mutationOp{typ: opMin, key: key, operand: operand})
	return t
}

// Enqueue schedules a message for delivery at deadlineMs. If delivery
// keeps failing past the backoff schedule, the payload is written to each
// of keysIfUndelivered in one atomic batch.
func (t *Txn) Enqueue(payload []byte, deadlineMs int64, keysIfUndelivered [][]byte, backoff []uint32) *Txn {
	t.enqueues = append(t.enqueues, enqueueOp{
		payload:           payload,
		deadlineMs:        deadlineMs,
		keysIfUndelivered: keysIfUndelivered,
		backoff:           backoff,
	})
	return t
}

func (t *Txn) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}

// Commit applies the transaction and returns the commit versionstamp in
// hex. A failed check returns ErrCheckFailed and writes nothing.
func (t *Txn) Commit() (string, error) {
	if t.err != nil {
		return "", t.err
	}

	e := t.e
	e.Lock()
	defer e.Unlock()

	if e.closed {
		return "", ErrClosed
	}
	if e.opts.readOnly {
		return "", ErrReadOnly
	}

	now := nowMs()

	// Evaluate every check against the live index before anything is
	// staged.
	for _, c := range t.checks {
		cur := ""
		if m, ok := e.index.get(c.key); ok && !(m.Expiry != 0 && now > m.Expiry) {
			cur = hex.EncodeToString(m.Versionstamp[:])
		}
		if cur != c.versionstamp {
			return "", ErrCheckFailed
		}
	}

	seq := e.version + 1
	var vs [10]byte
	binary.BigEndian.PutUint64(vs[:8], seq)

	buf := e.bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer e.bufPool.Put(buf)

	type indexUpdate struct {
		key []byte
		m   meta
		del bool
	}
	type queueUpdate struct {
		it queueItem
	}
	var (
		updates  []indexUpdate
		qupdates []queueUpdate
		touched  [][]byte
	)

	// In-transaction view so later ops observe earlier ones.
	type pendingVal struct {
		deleted bool
		v       Value
	}
	pending := map[string]pendingVal{}

	lookup := func(key []byte) (Value, bool, error) {
		if pv, ok := pending[string(key)]; ok {
			if pv.deleted {
				return Value{}, false, nil
			}
			return pv.v, true, nil
		}
		m, ok := e.index.get(key)
		if !ok || (m.Expiry != 0 && now > m.Expiry) {
			return Value{}, false, nil
		}
		v, err := e.readValue(m)
		if err != nil {
			return Value{}, false, err
		}
		return v, true, nil
	}

	ts := nowUnix()
	stage := func(key []byte, v Value, expireAtMs int64, tombstone bool) error {
		rec := Record{
			Header: Header{
				Timestamp:    ts,
				Expiry:       expireAtMs,
				Kind:         uint8(v.Kind),
				Versionstamp: vs,
			},
			Namespace: nsData,
			Key:       key,
		}
		if tombstone {
			rec.Header.Flags = flagTombstone
			rec.Header.Kind = 0
		} else {
			rec.Value = v.payload()
		}

		start := buf.Len()
		size, err := rec.encode(buf)
		if err != nil {
			return err
		}

		up := indexUpdate{key: key, del: tombstone}
		if !tombstone {
			up.m = meta{
				FileID:       e.df.ID(),
				RecordSize:   size,
				RecordPos:    start, // relative; fixed up after the batch lands
				Timestamp:    ts,
				Expiry:       expireAtMs,
				Kind:         v.Kind,
				Versionstamp: vs,
			}
		}
		updates = append(updates, up)
		touched = append(touched, key)
		if tombstone {
			pending[string(key)] = pendingVal{deleted: true}
		} else {
			pending[string(key)] = pendingVal{v: v}
		}
		return nil
	}

	for _, op := range t.muts {
		switch op.typ {
		case opSet:
			if err := stage(op.key, op.value, op.expireAtMs, false); err != nil {
				return "", err
			}
		case opSetVersionstamped:
			key := make([]byte, 0, len(op.key)+10)
			key = append(key, op.key...)
			key = append(key, vs[:]...)
			if err := stage(key, op.value, op.expireAtMs, false); err != nil {
				return "", err
			}
		case opDelete:
			if err := stage(op.key, Value{}, 0, true); err != nil {
				return "", err
			}
		case opSum, opMax, opMin:
			cur, ok, err := lookup(op.key)
			if err != nil {
				return "", err
			}
			base := uint64(0)
			hasBase := false
			if ok {
				if cur.Kind != KindCounter {
					return "", ErrNotCounter
				}
				base = cur.Counter
				hasBase = true
			}
			next := op.operand
			if hasBase {
				switch op.typ {
				case opSum:
					next = base + op.operand // wraps
				case opMax:
					if base > op.operand {
						next = base
					}
				case opMin:
					if base < op.operand {
						next = base
					}
				}
			}
			if err := stage(op.key, CounterValue(next), 0, false); err != nil {
				return "", err
			}
		}
	}

	for i, op := range t.enqueues {
		qseq := e.queueSeq + uint64(i) + 1
		due := op.deadlineMs
		if due < now {
			due = now
		}
		msg := queueMessage{
			Payload:           op.payload,
			DeadlineMs:        op.deadlineMs,
			DueMs:             due,
			KeysIfUndelivered: op.keysIfUndelivered,
			Backoff:           op.backoff,
		}
		payload, err := encodeQueueMessage(&msg)
		if err != nil {
			return "", err
		}

		qkey := make([]byte, 8)
		binary.BigEndian.PutUint64(qkey, qseq)
		rec := Record{
			Header: Header{
				Timestamp:    ts,
				Kind:         uint8(KindSerialized),
				Versionstamp: vs,
			},
			Namespace: nsQueue,
			Key:       qkey,
		}
		rec.Value = payload

		start := buf.Len()
		size, err := rec.encode(buf)
		if err != nil {
			return "", err
		}
		qupdates = append(qupdates, queueUpdate{it: queueItem{
			seq:   qseq,
			dueMs: due,
			m: meta{
				FileID:       e.df.ID(),
				RecordSize:   size,
				RecordPos:    start,
				Timestamp:    ts,
				Kind:         KindSerialized,
				Versionstamp: vs,
			},
		}})
	}

	// One append for the whole batch.
	if buf.Len() > 0 {
		batchPos, err := e.df.Write(buf.Bytes())
		if err != nil {
			return "", err
		}
		if e.opts.alwaysFSync {
			if err := e.df.Sync(); err != nil {
				return "", err
			}
		}

		for _, up := range updates {
			if up.del {
				e.index.delete(up.key)
				continue
			}
			up.m.RecordPos += batchPos
			e.index.set(append([]byte{}, up.key...), up.m)
		}
		for _, qu := range qupdates {
			qu.it.m.RecordPos += batchPos
			e.queue.set(qu.it)
		}
	}

	e.version = seq
	e.queueSeq += uint64(len(t.enqueues))

	if len(touched) > 0 {
		e.watchers.notify(e, touched)
	}
	if len(qupdates) > 0 {
		e.wakeQueue()
	}

	return hex.EncodeToString(vs[:]), nil
}
