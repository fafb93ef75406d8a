package kr

import (
	"sync"

	"github.com/tableio/tableio/pkg/tablelog"
)

// RangeTracker arbitrates the progress of a single reading goroutine
// against concurrent attempts to carve off an unconsumed suffix of the
// range. Exactly one goroutine calls TryClaim and MarkDone; split attempts
// may arrive from any other goroutine. Every operation runs inside the
// same critical section, so a split observes either the state before or
// after any claim, never a torn one.
type RangeTracker struct {
	mu sync.Mutex

	rng             KeyRange
	lastClaimedKey  []byte
	done            bool
	splitPointsSeen int64
}

func NewRangeTracker(rng KeyRange) *RangeTracker {
	return &RangeTracker{
		rng: KeyRange{
			LowerBound: append([]byte(nil), rng.LowerBound...),
			UpperBound: append([]byte(nil), rng.UpperBound...),
		},
	}
}

// TryClaim records key as the last returned record position. Keys must be
// claimed in ascending order. It fails once the tracker is done, for keys
// before the last claim, and for keys at or beyond the current upper
// bound, which may have been shrunk by a concurrent split.
func (t *RangeTracker) TryClaim(key []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return false
	}
	if CmpKeysLess(key, t.rng.LowerBound) {
		return false
	}
	if t.lastClaimedKey != nil && CmpKeysLess(key, t.lastClaimedKey) {
		return false
	}
	if !t.rng.Unbounded() && !CmpKeysLess(key, t.rng.UpperBound) {
		return false
	}

	t.lastClaimedKey = append(t.lastClaimedKey[:0], key...)
	t.splitPointsSeen++
	return true
}

// MarkDone finishes the tracker: all future claims and splits fail. It
// returns false so callers can chain it with a failed claim.
func (t *RangeTracker) MarkDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done = true
	return false
}

func (t *RangeTracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.done
}

// Range returns a snapshot of the current, possibly shrunk, range.
func (t *RangeTracker) Range() KeyRange {
	t.mu.Lock()
	defer t.mu.Unlock()

	return KeyRange{
		LowerBound: append([]byte(nil), t.rng.LowerBound...),
		UpperBound: append([]byte(nil), t.rng.UpperBound...),
	}
}

func (t *RangeTracker) LastClaimedKey() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.lastClaimedKey...)
}

// FractionConsumed estimates completed key-ordered work in [0,1]: 0 before
// any claim, 1 once done or when the range is empty.
func (t *RangeTracker) FractionConsumed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done || t.rng.Empty() {
		return 1
	}
	if t.lastClaimedKey == nil {
		return 0
	}
	return t.rng.FractionOfKey(t.lastClaimedKey)
}

// SplitPointsClaimed is a monotonically non-decreasing count of fully
// consumed split points. The record claimed last may still be in flight,
// so it counts only once the tracker is done.
func (t *RangeTracker) SplitPointsClaimed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return t.splitPointsSeen
	}
	if t.splitPointsSeen == 0 {
		return 0
	}
	return t.splitPointsSeen - 1
}

func (t *RangeTracker) SplitPointsSeen() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.splitPointsSeen
}

// TrySplitAtPosition shrinks the range's upper bound to splitKey. The
// split succeeds only if the tracker is not done, splitKey lies strictly
// inside the current open range and strictly beyond the last claimed key.
// Rejection is a normal outcome, not an error.
func (t *RangeTracker) TrySplitAtPosition(splitKey []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		tablelog.Zero.Debug().
			Str("range", t.rng.String()).
			Bytes("split-key", splitKey).
			Msg("rejecting split: tracker is done")
		return false
	}
	if !t.rng.ContainsStrictly(splitKey) {
		tablelog.Zero.Debug().
			Str("range", t.rng.String()).
			Bytes("split-key", splitKey).
			Msg("rejecting split: key outside open range")
		return false
	}
	if t.lastClaimedKey != nil && !CmpKeysLess(t.lastClaimedKey, splitKey) {
		tablelog.Zero.Debug().
			Bytes("last-claimed", t.lastClaimedKey).
			Bytes("split-key", splitKey).
			Msg("rejecting split: key already claimed")
		return false
	}

	t.rng = t.rng.WithUpperBound(splitKey)
	return true
}
