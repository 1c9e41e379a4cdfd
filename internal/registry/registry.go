// Package registry stores connections keyed by socket descriptor in a
// chained hash table.
package registry

import (
	"encoding/binary"
	"hash/fnv"
)

const (
	// InitialCapacity is the starting bucket count.
	InitialCapacity = 101
	// DefaultLoadFactor is the entries/buckets ratio above which the table doubles.
	DefaultLoadFactor = 0.5
)

// Destroyer releases resources held by a stored value.
type Destroyer interface {
	Destroy()
}

type node[V Destroyer] struct {
	key   int
	value V
	next  *node[V]
}

// Map exclusively owns its values: replaced and removed values are destroyed.
// It is not safe for concurrent use.
type Map[V Destroyer] struct {
	buckets []*node[V]
	count   int
	alpha   float64
}

// New returns an empty map; a non-positive loadFactor selects DefaultLoadFactor.
func New[V Destroyer](loadFactor float64) *Map[V] {
	if loadFactor <= 0 {
		loadFactor = DefaultLoadFactor
	}
	return &Map[V]{
		buckets: make([]*node[V], InitialCapacity),
		alpha:   loadFactor,
	}
}

// hashKey is FNV-1a over the descriptor's four bytes, low byte first.
func hashKey(key int) uint64 {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], uint32(key))
	h := fnv.New64a()
	_, _ = h.Write(raw[:])
	return h.Sum64()
}

func (m *Map[V]) index(key int, capacity int) int {
	return int(hashKey(key) % uint64(capacity))
}

func (m *Map[V]) Len() int      { return m.count }
func (m *Map[V]) Capacity() int { return len(m.buckets) }

// Insert stores value under key. An existing value is destroyed and replaced.
func (m *Map[V]) Insert(key int, value V) {
	i := m.index(key, len(m.buckets))
	for n := m.buckets[i]; n != nil; n = n.next {
		if n.key == key {
			n.value.Destroy()
			n.value = value
			return
		}
	}
	m.buckets[i] = &node[V]{key: key, value: value, next: m.buckets[i]}
	m.count++
	if float64(m.count)/float64(len(m.buckets)) > m.alpha {
		m.resize()
	}
}

// resize doubles the bucket count and relinks the existing nodes.
func (m *Map[V]) resize() {
	next := make([]*node[V], len(m.buckets)*2)
	for _, head := range m.buckets {
		for n := head; n != nil; {
			following := n.next
			i := m.index(n.key, len(next))
			n.next = next[i]
			next[i] = n
			n = following
		}
	}
	m.buckets = next
}

func (m *Map[V]) Get(key int) (V, bool) {
	for n := m.buckets[m.index(key, len(m.buckets))]; n != nil; n = n.next {
		if n.key == key {
			return n.value, true
		}
	}
	var zero V
	return zero, false
}

func (m *Map[V]) Contains(key int) bool {
	_, ok := m.Get(key)
	return ok
}

// Remove unlinks and destroys the value under key.
func (m *Map[V]) Remove(key int) bool {
	i := m.index(key, len(m.buckets))
	var prev *node[V]
	for n := m.buckets[i]; n != nil; prev, n = n, n.next {
		if n.key != key {
			continue
		}
		if prev == nil {
			m.buckets[i] = n.next
		} else {
			prev.next = n.next
		}
		n.value.Destroy()
		m.count--
		return true
	}
	return false
}

// Range calls fn for each entry until fn returns false. fn must not mutate m.
func (m *Map[V]) Range(fn func(key int, value V) bool) {
	for _, head := range m.buckets {
		for n := head; n != nil; n = n.next {
			if !fn(n.key, n.value) {
				return
			}
		}
	}
}
