package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"time"

	"github.com/tidwall/btree"
)

// Retry delays in milliseconds used when an enqueue carries no backoff
// schedule of its own.
var defaultBackoff = []uint32{100, 1000, 5000, 30000, 60000}

var errNoListener = errors.New("no queue listener attached")

// queueMessage is the durable envelope of one enqueued message.
type queueMessage struct {
	Payload           []byte
	DeadlineMs        int64
	DueMs             int64
	Attempts          uint32
	KeysIfUndelivered [][]byte
	Backoff           []uint32
}

func encodeQueueMessage(m *queueMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeQueueMessage(b []byte, m *queueMessage) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(m)
}

type queueItem struct {
	seq      uint64
	dueMs    int64
	attempts uint32
	m        meta
}

// queueIndex orders pending messages by due time so the dispatcher can
// sleep until the earliest one.
type queueIndex struct {
	tr    *btree.BTreeG[queueItem]
	bySeq map[uint64]queueItem
}

func newQueueIndex() *queueIndex {
	return &queueIndex{
		tr: btree.NewBTreeG(func(a, b queueItem) bool {
			if a.dueMs != b.dueMs {
				return a.dueMs < b.dueMs
			}
			return a.seq < b.seq
		}),
		bySeq: map[uint64]queueItem{},
	}
}

func (qi *queueIndex) set(it queueItem) {
	if old, ok := qi.bySeq[it.seq]; ok {
		qi.tr.Delete(old)
	}
	qi.bySeq[it.seq] = it
	qi.tr.Set(it)
}

func (qi *queueIndex) delete(seq uint64) {
	if old, ok := qi.bySeq[seq]; ok {
		qi.tr.Delete(old)
		delete(qi.bySeq, seq)
	}
}

func (qi *queueIndex) min() (queueItem, bool) {
	return qi.tr.Min()
}

func (qi *queueIndex) scan(fn func(it queueItem) bool) {
	qi.tr.Scan(fn)
}

func (qi *queueIndex) len() int {
	return qi.tr.Len()
}

// ListenQueue attaches fn as the queue consumer until ctx is cancelled.
// Only one consumer is active at a time; attaching replaces the previous
// one. fn returning an error counts as a failed delivery attempt.
func (e *Engine) ListenQueue(ctx context.Context, fn func(payload []byte) error) {
	e.Lock()
	e.listener = fn
	e.Unlock()
	e.wakeQueue()

	go func() {
		<-ctx.Done()
		e.Lock()
		e.listener = nil
		e.Unlock()
	}()
}

// QueueLen returns the number of pending queue messages.
func (e *Engine) QueueLen() int {
	e.Lock()
	defer e.Unlock()

	return e.queue.len()
}

func (e *Engine) wakeQueue() {
	select {
	case e.qwake <- struct{}{}:
	default:
	}
}

// runQueue sleeps until the earliest due message and dispatches it.
func (e *Engine) runQueue() {
	for {
		e.Lock()
		if e.closed {
			e.Unlock()
			return
		}
		next, ok := e.queue.min()
		e.Unlock()

		if !ok {
			select {
			case <-e.stopCh:
				return
			case <-e.qwake:
			}
			continue
		}

		wait := time.Until(time.UnixMilli(next.dueMs))
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-e.stopCh:
				timer.Stop()
				return
			case <-e.qwake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		e.dispatchDue()
	}
}

// dispatchDue delivers every message whose due time has passed.
func (e *Engine) dispatchDue() {
	if e.opts.readOnly {
		return
	}

	now := nowMs()

	e.Lock()
	var due []queueItem
	e.queue.scan(func(it queueItem) bool {
		if it.dueMs > now {
			return false
		}
		due = append(due, it)
		return true
	})

	type job struct {
		it  queueItem
		msg queueMessage
	}
	jobs := make([]job, 0, len(due))
	for _, it := range due {
		v, err := e.readValue(it.m)
		if err != nil {
			e.lo.Error("error reading queue message", "seq", it.seq, "error", err)
			e.queue.delete(it.seq)
			continue
		}
		var msg queueMessage
		if err := decodeQueueMessage(v.Data, &msg); err != nil {
			e.lo.Error("error decoding queue message", "seq", it.seq, "error", err)
			e.queue.delete(it.seq)
			continue
		}
		jobs = append(jobs, job{it: it, msg: msg})
	}
	fn := e.listener
	e.Unlock()

	for _, j := range jobs {
		err := errNoListener
		if fn != nil {
			err = fn(j.msg.Payload)
		}
		if err == nil {
			if derr := e.finishQueueMessage(j.it.seq); derr != nil {
				e.lo.Error("error removing delivered queue message", "seq", j.it.seq, "error", derr)
			}
			continue
		}

		backoff := j.msg.Backoff
		if len(backoff) == 0 {
			backoff = defaultBackoff
		}
		attempts := j.msg.Attempts + 1
		if int(attempts) > len(backoff) {
			// Schedule exhausted: surface the payload on the fallback
			// keys and drop the message.
			if len(j.msg.KeysIfUndelivered) > 0 {
				txn := e.Atomic()
				for _, k := range j.msg.KeysIfUndelivered {
					txn.Set(k, SerializedValue(j.msg.Payload), 0)
				}
				if _, werr := txn.Commit(); werr != nil {
					e.lo.Error("error writing undelivered keys", "seq", j.it.seq, "error", werr)
				}
			}
			if derr := e.finishQueueMessage(j.it.seq); derr != nil {
				e.lo.Error("error dropping exhausted queue message", "seq", j.it.seq, "error", derr)
			}
			continue
		}

		j.msg.Attempts = attempts
		j.msg.DueMs = now + int64(backoff[attempts-1])
		if rerr := e.requeueMessage(j.it.seq, &j.msg); rerr != nil {
			e.lo.Error("error rescheduling queue message", "seq", j.it.seq, "error", rerr)
		}
	}
}

// finishQueueMessage appends a queue tombstone and drops the message from
// the index.
func (e *Engine) finishQueueMessage(seq uint64) error {
	e.Lock()
	defer e.Unlock()

	if e.closed {
		return ErrClosed
	}

	qkey := make([]byte, 8)
	binary.BigEndian.PutUint64(qkey, seq)
	rec := Record{
		Header:    Header{Timestamp: nowUnix(), Flags: flagTombstone},
		Namespace: nsQueue,
		Key:       qkey,
	}
	if _, err := e.appendRecord(&rec); err != nil {
		return err
	}
	e.queue.delete(seq)
	return nil
}

// requeueMessage persists updated attempt state and re-indexes the
// message at its next due time.
func (e *Engine) requeueMessage(seq uint64, msg *queueMessage) error {
	e.Lock()
	defer e.Unlock()

	if e.closed {
		return ErrClosed
	}

	payload, err := encodeQueueMessage(msg)
	if err != nil {
		return err
	}

	old, ok := e.queue.bySeq[seq]
	if !ok {
		return nil
	}

	qkey := make([]byte, 8)
	binary.BigEndian.PutUint64(qkey, seq)
	rec := Record{
		Header: Header{
			Timestamp:    nowUnix(),
			Kind:         uint8(KindSerialized),
			Versionstamp: old.m.Versionstamp,
		},
		Namespace: nsQueue,
		Key:       qkey,
		Value:     payload,
	}
	m, err := e.appendRecord(&rec)
	if err != nil {
		return err
	}
	e.queue.set(queueItem{seq: seq, dueMs: msg.DueMs, attempts: msg.Attempts, m: m})
	e.wakeQueue()
	return nil
}

// appendRecord writes a single record to the active datafile. Caller
// holds the engine lock.
func (e *Engine) appendRecord(rec *Record) (meta, error) {
	buf := e.bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer e.bufPool.Put(buf)

	size, err := rec.encode(buf)
	if err != nil {
		return meta{}, err
	}
	pos, err := e.df.Write(buf.Bytes())
	if err != nil {
		return meta{}, err
	}
	if e.opts.alwaysFSync {
		if err := e.df.Sync(); err != nil {
			return meta{}, err
		}
	}
	return meta{
		FileID:       e.df.ID(),
		RecordSize:   size,
		RecordPos:    pos,
		Timestamp:    rec.Header.Timestamp,
		Expiry:       rec.Header.Expiry,
		Kind:         ValueKind(rec.Header.Kind),
		Versionstamp: rec.Header.Versionstamp,
	}, nil
}
