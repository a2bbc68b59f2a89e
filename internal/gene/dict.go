// Package gene maintains the dictionary assigning dense indices to gene
// identifiers in first-seen order.
package gene

import (
	"errors"
	"fmt"
)

// ErrFrozen is returned by Intern after Freeze. Interning past the freeze
// point is a programming error: it would assign an index after assembly has
// already begun relying on the index space being fixed.
var ErrFrozen = errors.New("gene: dictionary is frozen")

// Dictionary assigns dense, monotonically increasing indices to gene names,
// deduplicating on first occurrence. It is single-writer during the
// aggregation pass and read-only after Freeze; it carries no internal locking.
type Dictionary struct {
	byName map[string]uint32
	names  []string
	frozen bool
}

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{byName: make(map[string]uint32)}
}

// Intern returns the index for name, allocating the next dense index on first
// occurrence. Indices start at 0 and are never reused or reordered.
func (d *Dictionary) Intern(name string) (uint32, error) {
	if idx, ok := d.byName[name]; ok {
		return idx, nil
	}
	if d.frozen {
		return 0, fmt.Errorf("%w: intern(%q)", ErrFrozen, name)
	}
	idx := uint32(len(d.names))
	d.byName[name] = idx
	d.names = append(d.names, name)
	return idx, nil
}

// Freeze fixes the index space. Subsequent Intern calls for unseen names fail
// with ErrFrozen; lookups remain valid.
func (d *Dictionary) Freeze() {
	d.frozen = true
}

// Frozen reports whether Freeze has been called.
func (d *Dictionary) Frozen() bool {
	return d.frozen
}

// Lookup returns the name for an index.
func (d *Dictionary) Lookup(idx uint32) (string, bool) {
	if int(idx) >= len(d.names) {
		return "", false
	}
	return d.names[idx], true
}

// Len returns the number of interned names.
func (d *Dictionary) Len() int {
	return len(d.names)
}

// Names returns a copy of all names in index order.
func (d *Dictionary) Names() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}
