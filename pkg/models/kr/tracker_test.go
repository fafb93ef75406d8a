package kr_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tableio/tableio/pkg/models/kr"
)

func TestTryClaimAscending(t *testing.T) {
	assert := assert.New(t)

	tracker := kr.NewRangeTracker(kr.KeyRange{LowerBound: []byte("a"), UpperBound: []byte("z")})
	prev := -1.0
	for _, key := range [][]byte{[]byte("b"), []byte("c"), []byte("cc"), []byte("m"), []byte("y")} {
		assert.True(tracker.TryClaim(key), "claim %q", key)
		f := tracker.FractionConsumed()
		assert.GreaterOrEqual(f, prev)
		prev = f
	}
}

func TestTryClaimOutOfRange(t *testing.T) {
	assert := assert.New(t)

	tracker := kr.NewRangeTracker(kr.KeyRange{LowerBound: []byte("c"), UpperBound: []byte("f")})
	assert.False(tracker.TryClaim([]byte("b")), "key before range")
	assert.False(tracker.TryClaim([]byte("f")), "key at upper bound")
	assert.False(tracker.TryClaim([]byte("g")), "key past upper bound")
	assert.True(tracker.TryClaim([]byte("c")), "key at lower bound")
}

func TestTryClaimAfterMarkDone(t *testing.T) {
	assert := assert.New(t)

	tracker := kr.NewRangeTracker(kr.KeyRange{LowerBound: []byte("a"), UpperBound: []byte("z")})
	assert.True(tracker.TryClaim([]byte("b")))
	assert.False(tracker.MarkDone())
	assert.False(tracker.TryClaim([]byte("c")))
	assert.Equal(1.0, tracker.FractionConsumed())
}

func TestFractionConsumedBounds(t *testing.T) {
	assert := assert.New(t)

	tracker := kr.NewRangeTracker(kr.KeyRange{LowerBound: []byte("a"), UpperBound: []byte("z")})
	assert.Equal(0.0, tracker.FractionConsumed())

	empty := kr.NewRangeTracker(kr.KeyRange{LowerBound: []byte("a"), UpperBound: []byte("a")})
	assert.Equal(1.0, empty.FractionConsumed())
}

func TestTrySplitAtPosition(t *testing.T) {
	assert := assert.New(t)

	for _, c := range []struct {
		claimed  [][]byte
		done     bool
		splitKey []byte
		expected bool
	}{
		// no claims yet, key inside
		{nil, false, []byte("m"), true},
		// at the lower bound: not strictly inside
		{nil, false, []byte("a"), false},
		// at the upper bound: not strictly inside
		{nil, false, []byte("z"), false},
		// outside the range
		{nil, false, []byte("zz"), false},
		// strictly after last claim
		{[][]byte{[]byte("d")}, false, []byte("m"), true},
		// at last claim
		{[][]byte{[]byte("m")}, false, []byte("m"), false},
		// before last claim
		{[][]byte{[]byte("m")}, false, []byte("d"), false},
		// tracker done
		{[][]byte{[]byte("d")}, true, []byte("m"), false},
	} {
		tracker := kr.NewRangeTracker(kr.KeyRange{LowerBound: []byte("a"), UpperBound: []byte("z")})
		for _, key := range c.claimed {
			assert.True(tracker.TryClaim(key))
		}
		if c.done {
			tracker.MarkDone()
		}
		assert.Equal(c.expected, tracker.TrySplitAtPosition(c.splitKey),
			"claimed %v done %v split %q", c.claimed, c.done, c.splitKey)
	}
}

func TestSplitShrinksRange(t *testing.T) {
	assert := assert.New(t)

	tracker := kr.NewRangeTracker(kr.KeyRange{LowerBound: []byte("a"), UpperBound: []byte("z")})
	assert.True(tracker.TryClaim([]byte("b")))
	assert.True(tracker.TrySplitAtPosition([]byte("m")))
	assert.Equal(kr.KeyRange{LowerBound: []byte("a"), UpperBound: []byte("m")}, tracker.Range())

	// claims at or beyond the new bound fail
	assert.False(tracker.TryClaim([]byte("m")))

	// a second split keeps shrinking
	assert.True(tracker.TrySplitAtPosition([]byte("f")))
	assert.Equal([]byte("f"), tracker.Range().UpperBound)
	assert.True(tracker.TryClaim([]byte("c")))
	assert.False(tracker.TryClaim([]byte("f")))
}

func TestSplitPointsClaimed(t *testing.T) {
	assert := assert.New(t)

	tracker := kr.NewRangeTracker(kr.KeyRange{LowerBound: []byte("a"), UpperBound: []byte("z")})
	assert.Equal(int64(0), tracker.SplitPointsClaimed())

	tracker.TryClaim([]byte("b"))
	assert.Equal(int64(0), tracker.SplitPointsClaimed(), "last claim may be in flight")
	tracker.TryClaim([]byte("c"))
	assert.Equal(int64(1), tracker.SplitPointsClaimed())

	tracker.MarkDone()
	assert.Equal(int64(2), tracker.SplitPointsClaimed())
}

// must run with -race
func TestTrackerRacingClaimsAndSplits(t *testing.T) {
	require := require.New(t)

	tracker := kr.NewRangeTracker(kr.KeyRange{LowerBound: []byte("key00"), UpperBound: []byte("key99")})

	keys := make([][]byte, 0, 90)
	for i := 10; i < 100; i++ {
		keys = append(keys, []byte(fmt.Sprintf("key%d", i)))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	var claimed [][]byte
	go func() {
		defer wg.Done()
		for _, key := range keys {
			if tracker.TryClaim(key) {
				claimed = append(claimed, key)
			} else {
				tracker.MarkDone()
				return
			}
		}
		tracker.MarkDone()
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			tracker.TrySplitAtPosition([]byte(fmt.Sprintf("key%d", 50+i%40)))
		}
	}()
	wg.Wait()

	// no claimed key may sit at or beyond the final shrunk bound
	end := tracker.Range().UpperBound
	for _, key := range claimed {
		require.True(kr.CmpKeysLess(key, end), "claimed %q >= bound %q", key, end)
	}
}
