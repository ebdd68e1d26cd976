package keybuilder

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key is an immutable key map with a canonical string form. The canonical
// form is independent of map iteration order and is used for cache identity,
// single-flight grouping, and shard selection.
type Key struct {
	m         map[string]string
	canonical string
	hash      uint64
}

// NewKey copies m and derives its canonical form. A nil or empty map is the
// empty key, which is still a legal lookup key.
func NewKey(m map[string]string) Key {
	cp := make(map[string]string, len(m))
	names := make([]string, 0, len(m))
	for k, v := range m {
		cp[k] = v
		names = append(names, k)
	}
	sort.Strings(names)

	// Length-prefixed pairs make the encoding unambiguous regardless of the
	// characters appearing in keys or values.
	var b strings.Builder
	for _, k := range names {
		v := cp[k]
		b.WriteString(strconv.Itoa(len(k)))
		b.WriteByte(':')
		b.WriteString(k)
		b.WriteString(strconv.Itoa(len(v)))
		b.WriteByte(':')
		b.WriteString(v)
	}
	canonical := b.String()

	return Key{
		m:         cp,
		canonical: canonical,
		hash:      xxhash.Sum64String(canonical),
	}
}

// Map returns a copy of the key map, safe to hand to collaborators.
func (k Key) Map() map[string]string {
	cp := make(map[string]string, len(k.m))
	for key, v := range k.m {
		cp[key] = v
	}
	return cp
}

// Canonical returns the canonical string form.
func (k Key) Canonical() string { return k.canonical }

// Hash returns the xxhash of the canonical form.
func (k Key) Hash() uint64 { return k.hash }

// Len returns the number of entries in the key map.
func (k Key) Len() int { return len(k.m) }

// Size is the estimated memory footprint of the key's strings.
func (k Key) Size() int { return len(k.canonical) }
