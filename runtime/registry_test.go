package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_LowestFreeSlot(t *testing.T) {
	r := newRegistry(2)
	a, b, c := &Instance{}, &Instance{}, &Instance{}

	assert.Equal(t, 0, r.acquire(a))
	assert.Equal(t, 1, r.acquire(b))
	assert.Equal(t, 2, r.acquire(c))
	assert.Equal(t, 4, r.capacity())

	r.release(0, a)
	r.release(0, a)
	assert.Equal(t, 2, r.len())

	d := &Instance{}
	assert.Equal(t, 0, r.acquire(d))
	got, ok := r.get(0)
	assert.True(t, ok)
	assert.Same(t, d, got)

	r.release(1, a)
	_, ok = r.get(1)
	assert.True(t, ok, "release with a stale instance keeps the slot")

	assert.Equal(t, []*Instance{d, b, c}, r.instances())
}

func TestRegistry_Doubling(t *testing.T) {
	r := newRegistry(0)
	for i := range 9 {
		assert.Equal(t, i, r.acquire(&Instance{}))
	}
	assert.Equal(t, 16, r.capacity())
}
