// Package engine implements the versionstamped key-value store the relay
// sits on: an append-only log store with an ordered in-memory index,
// atomic multi-op transactions, key watches, TTL expiry and a queue
// subsystem.
package engine

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zerodha/logf"

	"github.com/mr-karan/kvbridge/internal/datafile"
)

const (
	LOCKFILE   = "kvbridge.lock"
	HINTS_FILE = "kvbridge.hints"
)

// Entry is one live key-value pair. The versionstamp is the 10-byte
// commit stamp in hex, the form it travels in on the engine boundary.
type Entry struct {
	Key          []byte
	Value        Value
	Versionstamp string
}

type Engine struct {
	sync.Mutex

	lo      logf.Logger
	bufPool sync.Pool // Pool of byte buffers used for writing.
	opts    *Options

	index      *keyIndex   // Ordered in-memory view of all live keys.
	queue      *queueIndex // Due-time ordered view of pending queue messages.
	serializer Serializer

	df     *datafile.DataFile         // Active datafile.
	stale  map[int]*datafile.DataFile // Map of older datafiles with their IDs.
	flockF *os.File                   // Lockfile to prevent multiple write access to same datafile.

	version  uint64 // Last committed sequence number.
	queueSeq uint64 // Last assigned queue message sequence.

	watchers *watchHub
	listener func([]byte) error // Attached queue consumer, nil when absent.
	qwake    chan struct{}

	stopCh chan struct{}
	closed bool
}

// initLogger initializes logger instance.
func initLogger(debug bool) logf.Logger {
	opts := logf.Opts{EnableCaller: true}
	if debug {
		opts.Level = logf.DebugLevel
	}
	return logf.New(opts)
}

// Init initialises a datastore for storing data.
func Init(cfgs ...Config) (*Engine, error) {
	opts := DefaultOptions()
	for _, cfg := range cfgs {
		if err := cfg(opts); err != nil {
			return nil, err
		}
	}

	var (
		lo     = initLogger(opts.debug)
		index  = 0
		flockF *os.File
		stale  = map[int]*datafile.DataFile{}
	)

	if err := os.MkdirAll(opts.dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating data directory: %w", err)
	}

	// Load existing datafiles.
	files, err := getDataFiles(opts.dir)
	if err != nil {
		return nil, fmt.Errorf("error loading data files: %w", err)
	}

	if len(files) > 0 {
		ids, err := getIDs(files)
		if err != nil {
			return nil, fmt.Errorf("error parsing ids for existing files: %w", err)
		}

		// Increment the index to write to a new datafile.
		index = ids[len(ids)-1] + 1

		// Add all older datafiles to the list of stale files.
		for _, idx := range ids {
			df, err := datafile.New(opts.dir, idx)
			if err != nil {
				return nil, err
			}
			stale[idx] = df
		}
	}

	df, err := datafile.New(opts.dir, index)
	if err != nil {
		return nil, err
	}

	// If not running in a read only mode then create a lockfile to ensure
	// only one process writes to the db directory.
	if !opts.readOnly {
		lockPath := filepath.Join(opts.dir, LOCKFILE)
		if exists(lockPath) {
			return nil, ErrLocked
		}
		flockF, err = createFlockFile(lockPath)
		if err != nil {
			return nil, fmt.Errorf("error creating lockfile: %w", err)
		}
	}

	e := &Engine{
		opts:       opts,
		lo:         lo,
		df:         df,
		stale:      stale,
		flockF:     flockF,
		index:      newKeyIndex(),
		queue:      newQueueIndex(),
		serializer: identitySerializer{},
		watchers:   newWatchHub(),
		qwake:      make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		bufPool: sync.Pool{New: func() any {
			return bytes.NewBuffer([]byte{})
		}},
	}

	// Populate the index: prefer the hints snapshot, fall back to
	// scanning every datafile in id order.
	hintsPath := filepath.Join(opts.dir, HINTS_FILE)
	if exists(hintsPath) {
		if err := e.loadHints(hintsPath); err != nil {
			return nil, fmt.Errorf("error populating index from hints file: %w", err)
		}
		// A crash between now and the next snapshot would leave the
		// hints stale; drop them so the fallback scan kicks in.
		if !opts.readOnly {
			if err := os.Remove(hintsPath); err != nil {
				lo.Error("error removing hints file", "error", err)
			}
		}
	} else {
		if err := e.rebuildIndex(); err != nil {
			return nil, fmt.Errorf("error rebuilding index from data files: %w", err)
		}
	}

	go e.runFileSizeCheck(opts.checkFileSizeInterval)
	go e.runCompaction(opts.compactInterval)
	go e.runSweep(opts.sweepInterval)
	go e.runQueue()

	if !opts.alwaysFSync {
		interval := defaultSyncInterval
		if opts.syncInterval != nil {
			interval = *opts.syncInterval
		}
		go e.runSyncFile(interval)
	}

	return e, nil
}

// Shutdown stops background workers, snapshots the index to the hints
// file, closes all open file descriptors and removes the file lock. Not
// calling it leaves a stale lock that prevents future startups until it's
// removed manually.
func (e *Engine) Shutdown() {
	e.Lock()
	defer e.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	close(e.stopCh)

	e.watchers.closeAll()

	if !e.opts.readOnly {
		if err := e.generateHints(); err != nil {
			e.lo.Error("error generating hints file", "error", err)
		}
	}

	if err := e.df.Close(); err != nil {
		e.lo.Error("error closing active db file", "error", err, "id", e.df.ID())
	}

	for _, df := range e.stale {
		if err := df.Close(); err != nil {
			e.lo.Error("error closing stale db file", "error", err, "id", df.ID())
		}
	}

	if !e.opts.readOnly {
		if err := destroyFlockFile(e.flockF); err != nil {
			e.lo.Error("error destroying lock file", "error", err)
		}
	}
}

// Serializer returns the pluggable structured-value encoding.
func (e *Engine) Serializer() Serializer {
	return e.serializer
}

// Get returns the live entry for a key.
func (e *Engine) Get(key []byte) (Entry, error) {
	e.Lock()
	defer e.Unlock()

	ent, err := e.getEntry(key)
	if err != nil {
		return Entry{}, err
	}
	return *ent, nil
}

// Put stores a value under a key in its own transaction and returns the
// commit versionstamp. A zero expireAtMs means the entry never expires.
func (e *Engine) Put(key []byte, v Value, expireAtMs int64) (string, error) {
	txn := e.Atomic()
	txn.Set(key, v, expireAtMs)
	return txn.Commit()
}

// Delete removes a key in its own transaction.
func (e *Engine) Delete(key []byte) error {
	txn := e.Atomic()
	txn.Delete(key)
	_, err := txn.Commit()
	return err
}

// Len returns the number of live keys.
func (e *Engine) Len() int {
	e.Lock()
	defer e.Unlock()

	return e.index.len()
}

// Sync calls fsync(2) on the active data file.
func (e *Engine) Sync() error {
	e.Lock()
	defer e.Unlock()

	return e.df.Sync()
}

// getEntry looks a key up and materializes its entry. Caller holds the
// engine lock.
func (e *Engine) getEntry(key []byte) (*Entry, error) {
	m, ok := e.index.get(key)
	if !ok {
		return nil, ErrNotFound
	}
	if m.Expiry != 0 && nowMs() > m.Expiry {
		return nil, ErrNotFound
	}

	v, err := e.readValue(m)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Key:          key,
		Value:        v,
		Versionstamp: hex.EncodeToString(m.Versionstamp[:]),
	}, nil
}

// readValue fetches and decodes the record behind a meta entry. Caller
// holds the engine lock.
func (e *Engine) readValue(m meta) (Value, error) {
	df := e.df
	if m.FileID != df.ID() {
		var ok bool
		df, ok = e.stale[m.FileID]
		if !ok {
			return Value{}, fmt.Errorf("no datafile with id %d", m.FileID)
		}
	}

	raw, err := df.Read(m.RecordPos, m.RecordSize)
	if err != nil {
		return Value{}, fmt.Errorf("error reading data from file: %w", err)
	}

	r, err := decodeRecord(raw)
	if err != nil {
		return Value{}, err
	}

	return decodeValue(ValueKind(r.Header.Kind), r.Value)
}

// rebuildIndex replays every datafile in id order, applying records
// newest-wins and dropping tombstones, and seeds the commit sequence from
// the largest versionstamp seen.
func (e *Engine) rebuildIndex() error {
	ids := make([]int, 0, len(e.stale)+1)
	for id := range e.stale {
		ids = append(ids, id)
	}
	ids = append(ids, e.df.ID())
	sortInts(ids)

	for _, id := range ids {
		df := e.df
		if id != e.df.ID() {
			df = e.stale[id]
		}
		size, err := df.Size()
		if err != nil {
			return err
		}
		pos := 0
		for int64(pos) < size {
			head, err := df.Read(pos, headerSize)
			if err != nil {
				e.lo.Error("truncated record header, dropping segment tail", "id", id, "pos", pos)
				break
			}
			var h Header
			if err := h.decode(head); err != nil {
				return err
			}
			recSize := headerSize + 1 + int(h.KeySize) + int(h.ValSize)
			raw, err := df.Read(pos, recSize)
			if err != nil {
				e.lo.Error("truncated record, dropping segment tail", "id", id, "pos", pos)
				break
			}
			r, err := decodeRecord(raw)
			if err != nil {
				e.lo.Error("corrupt record, dropping segment tail", "id", id, "pos", pos, "error", err)
				break
			}

			seq := binary.BigEndian.Uint64(r.Header.Versionstamp[:8])
			if seq > e.version {
				e.version = seq
			}

			m := meta{
				FileID:       id,
				RecordSize:   recSize,
				RecordPos:    pos,
				Timestamp:    r.Header.Timestamp,
				Expiry:       r.Header.Expiry,
				Kind:         ValueKind(r.Header.Kind),
				Versionstamp: r.Header.Versionstamp,
			}

			switch r.Namespace {
			case nsData:
				if r.isTombstone() {
					e.index.delete(r.Key)
				} else {
					e.index.set(append([]byte{}, r.Key...), m)
				}
			case nsQueue:
				qseq := binary.BigEndian.Uint64(r.Key)
				if qseq > e.queueSeq {
					e.queueSeq = qseq
				}
				if r.isTombstone() {
					e.queue.delete(qseq)
				} else {
					var msg queueMessage
					if err := decodeQueueMessage(r.Value, &msg); err != nil {
						return fmt.Errorf("corrupt queue record at %d: %w", pos, err)
					}
					e.queue.set(queueItem{
						seq:      qseq,
						dueMs:    msg.DueMs,
						attempts: msg.Attempts,
						m:        m,
					})
				}
			}

			pos += recSize
		}
	}
	return nil
}

// loadHints restores the index snapshot written by the last clean
// shutdown.
func (e *Engine) loadHints(path string) error {
	hf, err := decodeHints(path)
	if err != nil {
		return err
	}
	e.version = hf.LastVersion
	e.queueSeq = hf.LastQueueSeq
	for _, row := range hf.Rows {
		e.index.set(row.Key, row.Meta)
	}
	for _, q := range hf.Queue {
		e.queue.set(queueItem{seq: q.Seq, dueMs: q.DueMs, attempts: q.Attempts, m: q.Meta})
	}
	return nil
}

// generateHints snapshots the in-memory state as gob. Caller holds the
// engine lock.
func (e *Engine) generateHints() error {
	hf := &hintsFile{
		LastVersion:  e.version,
		LastQueueSeq: e.queueSeq,
	}
	e.index.scan(func(key []byte, m meta) bool {
		hf.Rows = append(hf.Rows, hintRow{Key: key, Meta: m})
		return true
	})
	e.queue.scan(func(it queueItem) bool {
		hf.Queue = append(hf.Queue, queueHint{Seq: it.seq, DueMs: it.dueMs, Attempts: it.attempts, Meta: it.m})
		return true
	})

	return encodeHints(filepath.Join(e.opts.dir, HINTS_FILE), hf)
}

// runSyncFile flushes the active file to disk at a periodic interval.
func (e *Engine) runSyncFile(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if err := e.Sync(); err != nil {
				e.lo.Error("error syncing db file to disk", "error", err)
			}
		}
	}
}
