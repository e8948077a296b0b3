package marshal

import (
	"sync"

	"github.com/wippyai/carrica/container"
)

// Tag identifies the kind of shared container a proxy stands for.
type Tag uint8

const (
	TagArray Tag = iota + 1
	TagTable
	TagEntry
)

func (t Tag) String() string {
	return t.Kind().String()
}

// Kind returns the container kind of the tag.
func (t Tag) Kind() container.Kind {
	switch t {
	case TagArray:
		return container.KindArray
	case TagTable:
		return container.KindTable
	case TagEntry:
		return container.KindEntry
	}
	return 0
}

// TagOf returns the tag for a container kind.
func TagOf(k container.Kind) Tag {
	switch k {
	case container.KindArray:
		return TagArray
	case container.KindTable:
		return TagTable
	case container.KindEntry:
		return TagEntry
	}
	return 0
}

// Proxy is the data of a guest foreign object standing for a shared
// container. Every proxy owns the references it took: one on creation plus
// one per Hold. Release and Finalize only ever drop references the proxy
// owns, so no combination of explicit releases and collection can drop the
// same reference twice.
type Proxy struct {
	arena *container.Arena
	Owner any
	Ref   container.Ref
	mu    sync.Mutex
	owned int32
	Tag   Tag
}

// NewProxy wraps ref, taking over one reference the caller already holds.
func NewProxy(arena *container.Arena, tag Tag, ref container.Ref, owner any) *Proxy {
	return &Proxy{arena: arena, Tag: tag, Ref: ref, Owner: owner, owned: 1}
}

// Hold takes an additional reference.
func (p *Proxy) Hold() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.arena.Hold(p.Ref); err != nil {
		return err
	}
	p.owned++
	return nil
}

// Release drops one reference owned by the proxy. Without owned references
// it does nothing.
func (p *Proxy) Release() {
	p.mu.Lock()
	if p.owned == 0 {
		p.mu.Unlock()
		return
	}
	p.owned--
	p.mu.Unlock()
	p.arena.Release(p.Ref)
}

// Finalize drops every reference the proxy still owns, including those taken
// by Hold and never released.
func (p *Proxy) Finalize() {
	p.mu.Lock()
	n := p.owned
	p.owned = 0
	p.mu.Unlock()
	for range n {
		p.arena.Release(p.Ref)
	}
}

// Owned returns the number of references the proxy holds.
func (p *Proxy) Owned() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owned
}

// Alive reports whether the proxy's storage still exists.
func (p *Proxy) Alive() bool {
	return p.arena.Alive(p.Ref)
}
