// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package listener

// DefaultMinCacheSize is the buffer floor used when none is
// configured.
const DefaultMinCacheSize = 4096

// Policy decides the capacity of a cached buffer that must hold need
// bytes and currently holds capacity bytes.  Returning capacity keeps
// the buffer.
type Policy interface {
	Resize(capacity, need int) int
}

// ExactPolicy grows a buffer to exactly the size needed, and shrinks
// it to the larger of the need and Min once it is more than twice
// the need.
type ExactPolicy struct {
	Min int
}

// Resize implements Policy.
func (p ExactPolicy) Resize(capacity, need int) int {
	if need > capacity {
		return need
	}
	if capacity > 2*need && capacity > p.Min {
		if need < p.Min {
			return p.Min
		}
		return need
	}
	return capacity
}

// DoublingPolicy grows a buffer by doubling from Min, and halves it
// while the need fits in half, never going below Min.
type DoublingPolicy struct {
	Min int
}

// Resize implements Policy.
func (p DoublingPolicy) Resize(capacity, need int) int {
	if need > capacity {
		c := capacity
		if c < p.Min {
			c = p.Min
		}
		if c <= 0 {
			c = 1
		}
		for c < need {
			c *= 2
		}
		return c
	}
	c := capacity
	for c/2 >= need && c/2 >= p.Min && c/2 > 0 {
		c /= 2
	}
	return c
}

// buffer is a cached buffer resized by a policy.
type buffer struct {
	policy  Policy
	data    []byte
	grows   int
	shrinks int
}

func newBuffer(policy Policy, size int) *buffer {
	return &buffer{policy: policy, data: make([]byte, size)}
}

// full returns the whole buffer.
func (b *buffer) full() []byte {
	return b.data[:cap(b.data)]
}

// reserve returns need bytes, resizing the buffer per its policy.
// Contents are kept up to the new size.
func (b *buffer) reserve(need int) []byte {
	c := cap(b.data)
	n := b.policy.Resize(c, need)
	if n != c {
		data := make([]byte, n)
		copy(data, b.data[:c])
		b.data = data
		if n > c {
			b.grows++
		} else {
			b.shrinks++
		}
	}
	return b.data[:need]
}

// release drops the storage.
func (b *buffer) release() {
	b.data = nil
}
