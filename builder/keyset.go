package builder

import (
	"fmt"
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
)

// KeySet is a memory-efficient set of arbitrary keys, used for orphan-key
// diffing in MapBuilder.Finalize and chunk-coverage bookkeeping in the
// distributed package. Keys are interned into the roaring.Bitmap's native
// uint32 ID space via their fmt.Sprint representation, so a store of a
// million string keys costs a map of small ints plus one compressed
// bitmap instead of a million-entry set of live key values.
//
// Uses github.com/RoaringBitmap/roaring/v2 over an open, string-interned
// ID space rather than a fixed local-ID space.
type KeySet struct {
	bm    *roaring.Bitmap
	idOf  map[string]uint32
	keyOf []string
}

// NewKeySet creates an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{bm: roaring.New(), idOf: map[string]uint32{}}
}

func (s *KeySet) intern(key any) uint32 {
	k := fmt.Sprint(key)
	if id, ok := s.idOf[k]; ok {
		return id
	}
	id := uint32(len(s.keyOf))
	s.idOf[k] = id
	s.keyOf = append(s.keyOf, k)
	return id
}

// Add inserts key into the set.
func (s *KeySet) Add(key any) { s.bm.Add(s.intern(key)) }

// Contains reports whether key has been Added.
func (s *KeySet) Contains(key any) bool {
	id, ok := s.idOf[fmt.Sprint(key)]
	return ok && s.bm.Contains(id)
}

// Len returns the number of distinct keys Added.
func (s *KeySet) Len() int { return int(s.bm.GetCardinality()) }

// Keys iterates the string form of every Added key, in interning order.
func (s *KeySet) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		it := s.bm.Iterator()
		for it.HasNext() {
			if !yield(s.keyOf[it.Next()]) {
				return
			}
		}
	}
}
