package engine

import (
	"encoding/hex"
)

// Selector names the keys a List call covers. Either Start/End bound a
// half-open interval, or Prefix selects every key it is a prefix of
// (with Start optionally tightening the lower bound).
type Selector struct {
	Start  []byte
	End    []byte
	Prefix []byte
}

// ListOpts bound and orient a List call. A zero limit is unbounded.
type ListOpts struct {
	Limit   int
	Reverse bool
}

// List returns the live entries the selector covers, in key order, or in
// reverse key order when requested.
func (e *Engine) List(sel Selector, opts ListOpts) ([]Entry, error) {
	e.Lock()
	defer e.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	var (
		start = sel.Start
		end   = sel.End
	)
	if sel.Prefix != nil {
		end = prefixSuccessor(sel.Prefix)
		if start == nil {
			start = sel.Prefix
		}
	}

	var (
		now     = nowMs()
		entries []Entry
		ierr    error
	)
	visit := func(key []byte, m meta) bool {
		if m.Expiry != 0 && now > m.Expiry {
			return true
		}
		v, err := e.readValue(m)
		if err != nil {
			ierr = err
			return false
		}
		entries = append(entries, Entry{
			Key:          key,
			Value:        v,
			Versionstamp: hex.EncodeToString(m.Versionstamp[:]),
		})
		return opts.Limit == 0 || len(entries) < opts.Limit
	}

	if opts.Reverse {
		e.index.descendRange(start, end, visit)
	} else {
		e.index.ascendRange(start, end, visit)
	}
	if ierr != nil {
		return nil, ierr
	}
	return entries, nil
}

// prefixSuccessor returns the smallest key greater than every key with
// the given prefix, or nil when no such bound exists.
func prefixSuccessor(p []byte) []byte {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] != 0xFF {
			out := append([]byte{}, p[:i+1]...)
			out[i]++
			return out
		}
	}
	return nil
}
