package engine

import (
	"bytes"
	"encoding/gob"
	"os"

	"github.com/tidwall/btree"
)

// meta carries everything needed to locate and qualify a record without
// touching disk: segment, position, expiry and the commit versionstamp.
type meta struct {
	FileID       int
	RecordSize   int
	RecordPos    int
	Timestamp    uint32
	Expiry       int64
	Kind         ValueKind
	Versionstamp [10]byte
}

type indexItem struct {
	key []byte
	m   meta
}

// keyIndex is the ordered in-memory view of the live data keyspace.
// Replaces a plain hashmap so range scans walk keys in byte order.
type keyIndex struct {
	tr *btree.BTreeG[indexItem]
}

func newKeyIndex() *keyIndex {
	return &keyIndex{
		tr: btree.NewBTreeG(func(a, b indexItem) bool {
			return bytes.Compare(a.key, b.key) < 0
		}),
	}
}

func (ki *keyIndex) get(key []byte) (meta, bool) {
	it, ok := ki.tr.Get(indexItem{key: key})
	if !ok {
		return meta{}, false
	}
	return it.m, true
}

func (ki *keyIndex) set(key []byte, m meta) {
	ki.tr.Set(indexItem{key: key, m: m})
}

func (ki *keyIndex) delete(key []byte) {
	ki.tr.Delete(indexItem{key: key})
}

func (ki *keyIndex) len() int {
	return ki.tr.Len()
}

// ascendRange walks [start, end) in byte order. A nil end is unbounded.
func (ki *keyIndex) ascendRange(start, end []byte, fn func(key []byte, m meta) bool) {
	ki.tr.Ascend(indexItem{key: start}, func(it indexItem) bool {
		if end != nil && bytes.Compare(it.key, end) >= 0 {
			return false
		}
		return fn(it.key, it.m)
	})
}

// descendRange walks [start, end) in reverse byte order.
func (ki *keyIndex) descendRange(start, end []byte, fn func(key []byte, m meta) bool) {
	if end == nil {
		ki.tr.Reverse(func(it indexItem) bool {
			if bytes.Compare(it.key, start) < 0 {
				return false
			}
			return fn(it.key, it.m)
		})
		return
	}
	ki.tr.Descend(indexItem{key: end}, func(it indexItem) bool {
		// Descend pivots inclusively; the interval is half-open.
		if bytes.Compare(it.key, end) >= 0 {
			return true
		}
		if bytes.Compare(it.key, start) < 0 {
			return false
		}
		return fn(it.key, it.m)
	})
}

func (ki *keyIndex) scan(fn func(key []byte, m meta) bool) {
	ki.tr.Scan(func(it indexItem) bool {
		return fn(it.key, it.m)
	})
}

// hintRow is one serialized index entry inside the hints file.
type hintRow struct {
	Key  []byte
	Meta meta
}

// queueHint is one serialized queue-index entry.
type queueHint struct {
	Seq      uint64
	DueMs    int64
	Attempts uint32
	Meta     meta
}

// hintsFile is the gob snapshot written on shutdown for fast startup.
type hintsFile struct {
	LastVersion  uint64
	LastQueueSeq uint64
	Rows         []hintRow
	Queue        []queueHint
}

// encodeHints writes the snapshot to fPath as gob.
func encodeHints(fPath string, hf *hintsFile) error {
	file, err := os.Create(fPath)
	if err != nil {
		return err
	}
	defer file.Close()

	return gob.NewEncoder(file).Encode(hf)
}

// decodeHints reads a gob snapshot back.
func decodeHints(fPath string) (*hintsFile, error) {
	file, err := os.Open(fPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var hf hintsFile
	if err := gob.NewDecoder(file).Decode(&hf); err != nil {
		return nil, err
	}
	return &hf, nil
}
