package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mr-karan/kvbridge/internal/datafile"
)

// runFileSizeCheck checks the size of the active db file at a periodic
// interval and rotates it once it crosses the configured threshold.
func (e *Engine) runFileSizeCheck(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if err := e.rotateDF(); err != nil {
				e.lo.Error("error rotating db file", "error", err)
			}
		}
	}
}

// rotateDF replaces the active datafile with a fresh one and moves the
// current one to the list of stale files.
func (e *Engine) rotateDF() error {
	e.Lock()
	defer e.Unlock()

	if e.closed || e.opts.readOnly {
		return nil
	}

	size, err := e.df.Size()
	if err != nil {
		return err
	}

	e.lo.Debug("checking if db file has exceeded max_size", "current_size", size, "max_size", e.opts.maxActiveFileSize)
	if size < e.opts.maxActiveFileSize {
		return nil
	}

	oldID := e.df.ID()

	e.stale[oldID] = e.df

	df, err := datafile.New(e.opts.dir, oldID+1)
	if err != nil {
		return err
	}
	e.df = df

	return nil
}

// runCompaction merges all datafiles into a single one at a periodic
// interval.
func (e *Engine) runCompaction(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if err := e.merge(); err != nil {
				e.lo.Error("error merging datafiles", "error", err)
			}
		}
	}
}

// merge rewrites every live record into a fresh datafile and removes the
// old segments. Deleted, overwritten and expired records are dropped in
// the process.
func (e *Engine) merge() error {
	e.Lock()
	defer e.Unlock()

	if e.closed || e.opts.readOnly {
		return nil
	}

	tmpMergeDir, err := os.MkdirTemp("", "merged")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpMergeDir)

	mergeDF, err := datafile.New(tmpMergeDir, 0)
	if err != nil {
		return err
	}

	// Copy the raw record bytes of everything still alive; headers carry
	// their original versionstamps and expiries.
	var (
		now      = nowMs()
		newIndex = newKeyIndex()
		newQueue = newQueueIndex()
		ierr     error
	)
	rewrite := func(m meta) (meta, bool) {
		if m.Expiry != 0 && now > m.Expiry {
			return meta{}, false
		}
		df := e.df
		if m.FileID != df.ID() {
			df = e.stale[m.FileID]
		}
		raw, err := df.Read(m.RecordPos, m.RecordSize)
		if err != nil {
			ierr = err
			return meta{}, false
		}
		pos, err := mergeDF.Write(raw)
		if err != nil {
			ierr = err
			return meta{}, false
		}
		m.FileID = 0
		m.RecordPos = pos
		return m, true
	}

	e.index.scan(func(key []byte, m meta) bool {
		if nm, ok := rewrite(m); ok {
			newIndex.set(key, nm)
		}
		return ierr == nil
	})
	e.queue.scan(func(it queueItem) bool {
		if nm, ok := rewrite(it.m); ok {
			it.m = nm
			newQueue.set(it)
		}
		return ierr == nil
	})
	if ierr != nil {
		mergeDF.Close()
		return ierr
	}

	if err := mergeDF.Sync(); err != nil {
		mergeDF.Close()
		return err
	}
	if err := mergeDF.Close(); err != nil {
		return err
	}

	// Swap the merged file in for the old segments.
	for _, df := range e.stale {
		if err := df.Close(); err != nil {
			e.lo.Error("error closing stale df", "id", df.ID(), "error", err)
		}
	}
	if err := e.df.Close(); err != nil {
		e.lo.Error("error closing active df", "id", e.df.ID(), "error", err)
	}

	err = filepath.Walk(e.opts.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".db" {
			return os.Remove(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	mergedPath := filepath.Join(tmpMergeDir, fmt.Sprintf(datafile.FilePattern, 0))
	if err := os.Rename(mergedPath, filepath.Join(e.opts.dir, fmt.Sprintf(datafile.FilePattern, 0))); err != nil {
		return err
	}

	df, err := datafile.New(e.opts.dir, 0)
	if err != nil {
		return err
	}
	e.df = df
	e.stale = map[int]*datafile.DataFile{}
	e.index = newIndex
	e.queue = newQueue

	return nil
}

// runSweep deletes expired keys at a periodic interval.
func (e *Engine) runSweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.cleanupExpired()
		}
	}
}

// cleanupExpired removes every key whose expiry has passed. Each removal
// is its own checked transaction so a concurrent rewrite of the key wins
// over the sweep.
func (e *Engine) cleanupExpired() {
	if e.opts.readOnly {
		return
	}

	now := nowMs()

	e.Lock()
	var expired [][]byte
	e.index.scan(func(key []byte, m meta) bool {
		if m.Expiry != 0 && now > m.Expiry {
			expired = append(expired, key)
		}
		return true
	})
	e.Unlock()

	for _, k := range expired {
		e.lo.Debug("deleting key since it's expired", "key", k)
		txn := e.Atomic()
		txn.Check(k, "")
		txn.Delete(k)
		if _, err := txn.Commit(); err != nil && !errors.Is(err, ErrCheckFailed) && !errors.Is(err, ErrClosed) {
			e.lo.Error("error deleting expired key", "key", k, "error", err)
		}
	}
}
