// Package relay translates datapath protocol messages into operations on
// the underlying engine: snapshot range reads, atomic writes and key
// watch streams.
package relay

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zerodha/logf"

	"github.com/mr-karan/kvbridge/pkg/datapath"
	"github.com/mr-karan/kvbridge/pkg/engine"
	"github.com/mr-karan/kvbridge/pkg/tuple"
)

// ErrBadRequest marks failures the client caused: malformed wire bytes,
// undecodable keys or values, unsupported selectors. The HTTP layer maps
// it to a 400.
var ErrBadRequest = errors.New("bad request")

func badRequest(err error) error {
	return fmt.Errorf("%w: %w", ErrBadRequest, err)
}

type Relay struct {
	eng *engine.Engine
	lo  logf.Logger
}

func New(eng *engine.Engine, lo logf.Logger) *Relay {
	return &Relay{eng: eng, lo: lo}
}

// SnapshotRead executes a SnapshotRead request and returns the encoded
// response.
func (r *Relay) SnapshotRead(body []byte) ([]byte, error) {
	req, err := datapath.DecodeSnapshotRead(body)
	if err != nil {
		return nil, badRequest(err)
	}

	out := datapath.SnapshotReadOutput{
		ReadIsStronglyConsistent: true,
		Status:                   datapath.SnapshotReadSuccess,
	}

	for _, rr := range req.Ranges {
		sel, err := rangeSelector(rr)
		if err != nil {
			return nil, err
		}

		entries, err := r.eng.List(sel, engine.ListOpts{
			Limit:   int(rr.Limit),
			Reverse: rr.Reverse,
		})
		if err != nil {
			return nil, badRequest(err)
		}

		ro := datapath.ReadRangeOutput{}
		for _, ent := range entries {
			we, err := wireEntry(r.eng.Serializer(), ent)
			if err != nil {
				return nil, badRequest(err)
			}
			ro.Values = append(ro.Values, we)
		}
		out.Ranges = append(out.Ranges, ro)
	}

	return out.Encode(), nil
}

// rangeSelector normalizes a wire range into an engine selector: "after"
// endpoints are promoted to exact by appending an empty byte part, a
// "before" end turns into a prefix scan, and a "before" start is
// rejected.
func rangeSelector(rr datapath.ReadRange) (engine.Selector, error) {
	startT, startMode, err := tuple.UnpackRange(rr.Start)
	if err != nil {
		return engine.Selector{}, badRequest(err)
	}
	if startMode == tuple.ModeBefore {
		return engine.Selector{}, badRequest(errors.New("unsupported selector: start before"))
	}
	if startMode == tuple.ModeAfter {
		startT = append(startT, []byte{})
	}
	start, err := tuple.Pack(startT)
	if err != nil {
		return engine.Selector{}, badRequest(err)
	}

	endT, endMode, err := tuple.UnpackRange(rr.End)
	if err != nil {
		return engine.Selector{}, badRequest(err)
	}
	if endMode == tuple.ModeAfter {
		endT = append(endT, []byte{})
		endMode = tuple.ModeExact
	}
	end, err := tuple.Pack(endT)
	if err != nil {
		return engine.Selector{}, badRequest(err)
	}

	if endMode == tuple.ModeBefore {
		return engine.Selector{Start: start, Prefix: end}, nil
	}
	return engine.Selector{Start: start, End: end}, nil
}

// wireEntry serializes one engine entry for the wire.
func wireEntry(ser engine.Serializer, ent engine.Entry) (datapath.KvEntry, error) {
	data, enc, err := encodeValue(ser, ent.Value)
	if err != nil {
		return datapath.KvEntry{}, err
	}
	vs, err := hex.DecodeString(ent.Versionstamp)
	if err != nil {
		return datapath.KvEntry{}, err
	}
	return datapath.KvEntry{
		Key:          ent.Key,
		Value:        data,
		Encoding:     enc,
		Versionstamp: vs,
	}, nil
}

// AtomicWrite executes an AtomicWrite request and returns the encoded
// response. Check failures, a read-only engine and unexpected commit errors
// are reported in the response status; commit errors caused by the request
// itself (non-counter operand, empty or oversized key or value) are returned
// as ErrBadRequest.
func (r *Relay) AtomicWrite(body []byte) ([]byte, error) {
	req, err := datapath.DecodeAtomicWrite(body)
	if err != nil {
		return nil, badRequest(err)
	}

	var (
		ser = r.eng.Serializer()
		txn = r.eng.Atomic()
	)

	for _, c := range req.Checks {
		if _, err := tuple.Unpack(c.Key); err != nil {
			return nil, badRequest(err)
		}
		switch len(c.Versionstamp) {
		case 0:
			txn.Check(c.Key, "")
		case 10:
			txn.Check(c.Key, hex.EncodeToString(c.Versionstamp))
		default:
			return nil, badRequest(fmt.Errorf("check versionstamp is %d bytes, want 10", len(c.Versionstamp)))
		}
	}

	for _, m := range req.Mutations {
		if _, err := tuple.Unpack(m.Key); err != nil {
			return nil, badRequest(err)
		}

		switch m.MutationType {
		case datapath.MutationSet, datapath.MutationSetSuffixVersionstampedKey:
			if m.Value == nil {
				return nil, badRequest(errors.New("set mutation without value"))
			}
			v, err := decodeValue(ser, m.Value.Data, m.Value.Encoding)
			if err != nil {
				return nil, badRequest(err)
			}
			expireAt := int64(0)
			if m.ExpireAtMs > 0 {
				expireAt = m.ExpireAtMs
			}
			if m.MutationType == datapath.MutationSet {
				txn.Set(m.Key, v, expireAt)
			} else {
				txn.SetSuffixVersionstampedKey(m.Key, v, expireAt)
			}
		case datapath.MutationDelete:
			txn.Delete(m.Key)
		case datapath.MutationSum, datapath.MutationMax, datapath.MutationMin:
			operand, err := counterOperand(m.Value)
			if err != nil {
				return nil, badRequest(err)
			}
			switch m.MutationType {
			case datapath.MutationSum:
				txn.Sum(m.Key, operand)
			case datapath.MutationMax:
				txn.Max(m.Key, operand)
			case datapath.MutationMin:
				txn.Min(m.Key, operand)
			}
		default:
			return nil, badRequest(fmt.Errorf("unknown mutation type %d", m.MutationType))
		}
	}

	for _, enq := range req.Enqueues {
		payload, err := ser.Deserialize(enq.Payload, true)
		if err != nil {
			return nil, badRequest(err)
		}
		for _, k := range enq.KeysIfUndelivered {
			if _, err := tuple.Unpack(k); err != nil {
				return nil, badRequest(err)
			}
		}
		txn.Enqueue(payload, enq.DeadlineMs, enq.KeysIfUndelivered, enq.BackoffSchedule)
	}

	out := datapath.AtomicWriteOutput{}
	vs, err := txn.Commit()
	switch {
	case err == nil:
		raw, derr := hex.DecodeString(vs)
		if derr != nil {
			return nil, derr
		}
		out.Status = datapath.AtomicWriteSuccess
		out.Versionstamp = raw
	case errors.Is(err, engine.ErrCheckFailed):
		// The engine doesn't report which check failed, so FailedChecks
		// stays empty.
		out.Status = datapath.AtomicWriteCheckFailure
	case errors.Is(err, engine.ErrNotCounter), errors.Is(err, engine.ErrEmptyKey),
		errors.Is(err, engine.ErrLargeKey), errors.Is(err, engine.ErrLargeValue):
		return nil, badRequest(err)
	case errors.Is(err, engine.ErrReadOnly):
		out.Status = datapath.AtomicWriteWriteDisabled
	default:
		r.lo.Error("atomic write commit failed", "error", err)
		out.Status = datapath.AtomicWriteUnspecified
	}

	return out.Encode(), nil
}

// WatchStream is one live watch translated to wire frames.
type WatchStream struct {
	sub *engine.Subscription
	ser engine.Serializer
}

// Watch decodes a Watch request and subscribes to its keys. The stream
// ends when ctx is cancelled.
func (r *Relay) Watch(ctx context.Context, body []byte) (*WatchStream, error) {
	req, err := datapath.DecodeWatch(body)
	if err != nil {
		return nil, badRequest(err)
	}

	keys := make([][]byte, 0, len(req.Keys))
	for _, wk := range req.Keys {
		if _, err := tuple.Unpack(wk.Key); err != nil {
			return nil, badRequest(err)
		}
		keys = append(keys, wk.Key)
	}

	sub, err := r.eng.Watch(ctx, keys)
	if err != nil {
		return nil, badRequest(err)
	}

	return &WatchStream{sub: sub, ser: r.eng.Serializer()}, nil
}

// NextFrame blocks until the next update batch and returns it framed: a
// 4-byte little-endian length followed by the encoded WatchOutput. Once the
// subscription closes it returns an error for which IsStreamClosed reports
// true; a done ctx returns ctx.Err().
func (ws *WatchStream) NextFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case batch, ok := <-ws.sub.Updates():
		if !ok {
			return nil, errStreamClosed
		}
		return ws.frame(batch)
	}
}

var errStreamClosed = errors.New("watch stream closed")

func (ws *WatchStream) frame(batch []engine.KeyUpdate) ([]byte, error) {
	out := datapath.WatchOutput{}
	for _, ku := range batch {
		wko := datapath.WatchKeyOutput{Changed: true}
		if ku.Entry != nil {
			we, err := wireEntry(ws.ser, *ku.Entry)
			if err != nil {
				return nil, err
			}
			wko.EntryIfChanged = &we
		}
		out.Keys = append(out.Keys, wko)
	}

	payload := out.Encode()
	frame := make([]byte, 4, 4+len(payload))
	frame[0] = byte(len(payload))
	frame[1] = byte(len(payload) >> 8)
	frame[2] = byte(len(payload) >> 16)
	frame[3] = byte(len(payload) >> 24)
	return append(frame, payload...), nil
}

// Close detaches the underlying subscription.
func (ws *WatchStream) Close() {
	ws.sub.Close()
}

// IsStreamClosed reports whether the error from NextFrame means the
// stream ended cleanly.
func IsStreamClosed(err error) bool {
	return errors.Is(err, errStreamClosed)
}
