package scan

import (
	"bytes"
	"fmt"

	"github.com/tableio/tableio/pkg/models/kr"
)

// Filter restricts a scan to rows matching simple byte-prefix predicates.
// Anything richer than that belongs to the storage service, not here.
type Filter struct {
	KeyPrefix   []byte `json:"key_prefix,omitempty"`
	ValuePrefix []byte `json:"value_prefix,omitempty"`
}

func (f *Filter) Matches(key []byte, value []byte) bool {
	if f == nil {
		return true
	}
	if len(f.KeyPrefix) > 0 && !bytes.HasPrefix(key, f.KeyPrefix) {
		return false
	}
	if len(f.ValuePrefix) > 0 && !bytes.HasPrefix(value, f.ValuePrefix) {
		return false
	}
	return true
}

// Descriptor identifies one schedulable portion of a table scan. It is
// immutable: narrowing produces a new descriptor, so a residual handed to
// the scheduler never aliases the primary it was carved from.
type Descriptor struct {
	Table  string      `json:"table"`
	Range  kr.KeyRange `json:"range"`
	Filter *Filter     `json:"filter,omitempty"`
}

func NewDescriptor(table string, rng kr.KeyRange, filter *Filter) *Descriptor {
	return &Descriptor{
		Table:  table,
		Range:  rng,
		Filter: filter,
	}
}

// WithStartKey returns a copy whose range starts at key.
func (d *Descriptor) WithStartKey(key []byte) *Descriptor {
	return &Descriptor{
		Table:  d.Table,
		Range:  d.Range.WithLowerBound(key),
		Filter: d.Filter,
	}
}

// WithEndKey returns a copy whose range ends right before key.
func (d *Descriptor) WithEndKey(key []byte) *Descriptor {
	return &Descriptor{
		Table:  d.Table,
		Range:  d.Range.WithUpperBound(key),
		Filter: d.Filter,
	}
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("scan{table=%s range=%s}", d.Table, d.Range.String())
}
