package kr

import (
	"bytes"
	"fmt"
	"math"
	"math/big"

	"github.com/tableio/tableio/pkg/models/tableerror"
)

type KeyRangeBound []byte

// KeyRange is a left-closed, right-open interval over the ordered byte-key
// space. An empty UpperBound is the unbounded sentinel: the range extends
// to the end of the keyspace.
type KeyRange struct {
	LowerBound []byte `json:"from"`
	UpperBound []byte `json:"to"`
}

func CmpKeysLess(kr []byte, other []byte) bool {
	return bytes.Compare(kr, other) < 0
}

func CmpKeysLessEqual(kr []byte, other []byte) bool {
	return bytes.Compare(kr, other) <= 0
}

func CmpKeysEqual(kr []byte, other []byte) bool {
	return bytes.Equal(kr, other)
}

func (kr KeyRange) Unbounded() bool {
	return len(kr.UpperBound) == 0
}

func (kr KeyRange) Empty() bool {
	return !kr.Unbounded() && !CmpKeysLess(kr.LowerBound, kr.UpperBound)
}

func (kr KeyRange) Contains(key []byte) bool {
	if CmpKeysLess(key, kr.LowerBound) {
		return false
	}
	return kr.Unbounded() || CmpKeysLess(key, kr.UpperBound)
}

// ContainsStrictly reports whether key lies strictly inside the open
// interior of the range, i.e. whether key is a valid split position.
func (kr KeyRange) ContainsStrictly(key []byte) bool {
	if !CmpKeysLess(kr.LowerBound, key) {
		return false
	}
	return kr.Unbounded() || CmpKeysLess(key, kr.UpperBound)
}

func (kr KeyRange) WithLowerBound(key []byte) KeyRange {
	return KeyRange{
		LowerBound: append([]byte(nil), key...),
		UpperBound: kr.UpperBound,
	}
}

func (kr KeyRange) WithUpperBound(key []byte) KeyRange {
	return KeyRange{
		LowerBound: kr.LowerBound,
		UpperBound: append([]byte(nil), key...),
	}
}

func (kr KeyRange) String() string {
	if kr.Unbounded() {
		return fmt.Sprintf("[%x, +inf)", kr.LowerBound)
	}
	return fmt.Sprintf("[%x, %x)", kr.LowerBound, kr.UpperBound)
}

// Keys map to positions in [0,1] by reading them as base-256 fixed-point
// fractions: a key is padded with 0x00 bytes to a shared precision and
// interpreted as an integer, with the unbounded sentinel padding as 0xff.
// The mapping is monotonic and deterministic; it makes no attempt at
// bit-compatibility with any other system.

func (kr KeyRange) precision(extra []byte) int {
	prec := len(kr.LowerBound)
	if len(kr.UpperBound) > prec {
		prec = len(kr.UpperBound)
	}
	if len(extra) > prec {
		prec = len(extra)
	}
	return prec + 2
}

func paddedInt(key []byte, prec int, pad byte) *big.Int {
	buf := make([]byte, prec)
	n := copy(buf, key)
	for i := n; i < prec; i++ {
		buf[i] = pad
	}
	return new(big.Int).SetBytes(buf)
}

func (kr KeyRange) bounds(prec int) (lo, hi *big.Int) {
	lo = paddedInt(kr.LowerBound, prec, 0x00)
	if kr.Unbounded() {
		hi = paddedInt(nil, prec, 0xff)
	} else {
		hi = paddedInt(kr.UpperBound, prec, 0x00)
	}
	return lo, hi
}

// FractionOfKey estimates the position of key within the range, clamped
// to [0,1].
func (kr KeyRange) FractionOfKey(key []byte) float64 {
	prec := kr.precision(key)
	lo, hi := kr.bounds(prec)
	k := paddedInt(key, prec, 0x00)

	den := new(big.Int).Sub(hi, lo)
	num := new(big.Int).Sub(k, lo)
	if den.Sign() <= 0 {
		return 1
	}
	if num.Sign() <= 0 {
		return 0
	}
	if num.Cmp(den) >= 0 {
		return 1
	}
	f, _ := new(big.Rat).SetFrac(num, den).Float64()
	return f
}

const interpolationScaleBits = 53

// InterpolateKey returns a key at approximately the given fraction of the
// range. The result is always strictly inside the open interior; if no
// such key exists the range cannot be subdivided further.
func (kr KeyRange) InterpolateKey(fraction float64) ([]byte, error) {
	if math.IsNaN(fraction) || fraction <= 0 || fraction >= 1 {
		return nil, tableerror.Newf(tableerror.TABLEIO_BOUNDS_ERROR,
			"fraction %v outside (0, 1)", fraction)
	}

	prec := kr.precision(nil)
	lo, hi := kr.bounds(prec)
	diff := new(big.Int).Sub(hi, lo)
	if diff.Sign() <= 0 {
		return nil, tableerror.Newf(tableerror.TABLEIO_BOUNDS_ERROR,
			"range %s is empty", kr.String())
	}

	scaled := big.NewInt(int64(fraction * (1 << interpolationScaleBits)))
	offset := new(big.Int).Mul(diff, scaled)
	offset.Rsh(offset, interpolationScaleBits)

	split := new(big.Int).Add(lo, offset)
	key := split.FillBytes(make([]byte, prec))

	// Trailing zero bytes carry no ordering information; trim them as long
	// as the key stays strictly above the lower bound.
	for len(key) > 0 && key[len(key)-1] == 0x00 {
		trimmed := key[:len(key)-1]
		if !CmpKeysLess(kr.LowerBound, trimmed) {
			break
		}
		key = trimmed
	}

	if !kr.ContainsStrictly(key) {
		return nil, tableerror.Newf(tableerror.TABLEIO_BOUNDS_ERROR,
			"range %s cannot be subdivided at fraction %v", kr.String(), fraction)
	}
	return key, nil
}
