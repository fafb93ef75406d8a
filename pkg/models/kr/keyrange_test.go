package kr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tableio/tableio/pkg/models/kr"
)

func TestCmpKeys(t *testing.T) {
	assert := assert.New(t)

	for _, c := range []struct {
		left      []byte
		right     []byte
		less      bool
		lessEqual bool
	}{
		{[]byte("a"), []byte("b"), true, true},
		{[]byte("b"), []byte("a"), false, false},
		{[]byte("a"), []byte("a"), false, true},
		{[]byte("a"), []byte("aa"), true, true},
		{[]byte{}, []byte{0x00}, true, true},
		{[]byte{0xff}, []byte{0xff, 0x00}, true, true},
	} {
		assert.Equal(c.less, kr.CmpKeysLess(c.left, c.right), "%q < %q", c.left, c.right)
		assert.Equal(c.lessEqual, kr.CmpKeysLessEqual(c.left, c.right), "%q <= %q", c.left, c.right)
	}
}

func TestKeyRangeContains(t *testing.T) {
	assert := assert.New(t)

	for _, c := range []struct {
		rng      kr.KeyRange
		key      []byte
		expected bool
	}{
		{kr.KeyRange{LowerBound: []byte("c"), UpperBound: []byte("f")}, []byte("c"), true},
		{kr.KeyRange{LowerBound: []byte("c"), UpperBound: []byte("f")}, []byte("d"), true},
		{kr.KeyRange{LowerBound: []byte("c"), UpperBound: []byte("f")}, []byte("f"), false},
		{kr.KeyRange{LowerBound: []byte("c"), UpperBound: []byte("f")}, []byte("b"), false},
		{kr.KeyRange{LowerBound: []byte("c")}, []byte("zzzz"), true},
		{kr.KeyRange{}, []byte("anything"), true},
	} {
		assert.Equal(c.expected, c.rng.Contains(c.key), "%s contains %q", c.rng.String(), c.key)
	}
}

func TestKeyRangeEmpty(t *testing.T) {
	assert := assert.New(t)

	assert.True(kr.KeyRange{LowerBound: []byte("a"), UpperBound: []byte("a")}.Empty())
	assert.True(kr.KeyRange{LowerBound: []byte("b"), UpperBound: []byte("a")}.Empty())
	assert.False(kr.KeyRange{LowerBound: []byte("a"), UpperBound: []byte("b")}.Empty())
	assert.False(kr.KeyRange{LowerBound: []byte("a")}.Empty())
}

func TestInterpolateKeyInsideRange(t *testing.T) {
	assert := assert.New(t)

	rng := kr.KeyRange{LowerBound: []byte("a"), UpperBound: []byte("z")}
	for _, fraction := range []float64{0.1, 0.25, 0.5, 0.75, 0.9} {
		key, err := rng.InterpolateKey(fraction)
		assert.NoError(err, "fraction %v", fraction)
		assert.True(rng.ContainsStrictly(key), "fraction %v gave %q", fraction, key)
	}
}

func TestInterpolateKeyMonotonic(t *testing.T) {
	assert := assert.New(t)

	rng := kr.KeyRange{LowerBound: []byte("key3"), UpperBound: []byte("key8")}
	var prev []byte
	for _, fraction := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		key, err := rng.InterpolateKey(fraction)
		assert.NoError(err)
		if prev != nil {
			assert.True(kr.CmpKeysLessEqual(prev, key))
		}
		prev = key
	}
}

func TestInterpolateKeyBadFraction(t *testing.T) {
	assert := assert.New(t)

	rng := kr.KeyRange{LowerBound: []byte("a"), UpperBound: []byte("z")}
	for _, fraction := range []float64{-0.5, 0, 1, 1.5} {
		_, err := rng.InterpolateKey(fraction)
		assert.Error(err, "fraction %v", fraction)
	}
}

func TestInterpolateKeyEmptyRange(t *testing.T) {
	assert := assert.New(t)

	rng := kr.KeyRange{LowerBound: []byte("a"), UpperBound: []byte("a")}
	_, err := rng.InterpolateKey(0.5)
	assert.Error(err)
}

func TestInterpolateKeyUnbounded(t *testing.T) {
	assert := assert.New(t)

	rng := kr.KeyRange{LowerBound: []byte("m")}
	key, err := rng.InterpolateKey(0.5)
	assert.NoError(err)
	assert.True(rng.ContainsStrictly(key))
}

func TestFractionOfKey(t *testing.T) {
	assert := assert.New(t)

	rng := kr.KeyRange{LowerBound: []byte{0x00}, UpperBound: []byte{0xff}}
	assert.Equal(0.0, rng.FractionOfKey([]byte{0x00}))
	assert.Equal(1.0, rng.FractionOfKey([]byte{0xff}))

	mid := rng.FractionOfKey([]byte{0x80})
	assert.InDelta(0.5, mid, 0.01)

	// monotonic over an ascending key sequence
	prev := -1.0
	for _, key := range [][]byte{{0x10}, {0x20}, {0x40}, {0x80}, {0xc0}} {
		f := rng.FractionOfKey(key)
		assert.GreaterOrEqual(f, prev)
		prev = f
	}
}

func TestFractionInterpolateRoundTrip(t *testing.T) {
	assert := assert.New(t)

	rng := kr.KeyRange{LowerBound: []byte("aaa"), UpperBound: []byte("zzz")}
	for _, fraction := range []float64{0.2, 0.5, 0.8} {
		key, err := rng.InterpolateKey(fraction)
		assert.NoError(err)
		assert.InDelta(fraction, rng.FractionOfKey(key), 0.01)
	}
}

func TestNarrowedBoundsPartition(t *testing.T) {
	assert := assert.New(t)

	orig := kr.KeyRange{LowerBound: []byte("a"), UpperBound: []byte("c")}
	split := []byte("b")
	primary := orig.WithUpperBound(split)
	residual := orig.WithLowerBound(split)

	for _, key := range [][]byte{[]byte("a"), []byte("ab"), []byte("b"), []byte("bz"), []byte("c")} {
		inOrig := orig.Contains(key)
		inPrimary := primary.Contains(key)
		inResidual := residual.Contains(key)
		assert.Equal(inOrig, inPrimary || inResidual, "key %q", key)
		assert.False(inPrimary && inResidual, "key %q in both halves", key)
	}
}
