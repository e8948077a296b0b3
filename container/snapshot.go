package container

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/carrica/errors"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborEncMode = em
}

// node is the wire form of a container tree. Nested containers are inlined;
// references are not preserved across a snapshot.
type node struct {
	Kind  Kind        `cbor:"1,keyasint"`
	Items []nodeValue `cbor:"2,keyasint,omitempty"`
}

type nodeValue struct {
	Num  *float64 `cbor:"1,keyasint,omitempty"`
	Bool *bool    `cbor:"2,keyasint,omitempty"`
	Str  *string  `cbor:"3,keyasint,omitempty"`
	Node *node    `cbor:"4,keyasint,omitempty"`
}

// Snapshot encodes the container at ref, including nested containers, as
// canonical CBOR. Cyclic containers cannot be encoded.
func (a *Arena) Snapshot(ref Ref) ([]byte, error) {
	n, err := a.encodeNode(ref, map[Ref]bool{})
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(n)
}

func (a *Arena) encodeNode(ref Ref, visiting map[Ref]bool) (*node, error) {
	if visiting[ref] {
		return nil, errors.New(errors.PhaseContainer, errors.KindUnsupported).
			Path(ref.String()).
			Detail("cyclic container cannot be encoded").
			Build()
	}
	visiting[ref] = true
	defer delete(visiting, ref)

	kind, ok := a.Kind(ref)
	if !ok {
		return nil, errors.Released(errors.PhaseContainer, "container "+ref.String())
	}

	var items []Value
	switch kind {
	case KindArray:
		arr, err := a.Array(ref)
		if err != nil {
			return nil, err
		}
		if items, err = arr.Values(); err != nil {
			return nil, err
		}
	case KindTable:
		tbl, err := a.Table(ref)
		if err != nil {
			return nil, err
		}
		if items, err = tbl.Pairs(); err != nil {
			return nil, err
		}
	case KindEntry:
		k, v, err := a.Entry(ref)
		if err != nil {
			return nil, err
		}
		items = []Value{k, v}
	}

	n := &node{Kind: kind, Items: make([]nodeValue, 0, len(items))}
	for _, item := range items {
		var nv nodeValue
		switch x := item.(type) {
		case nil:
		case float64:
			nv.Num = &x
		case bool:
			nv.Bool = &x
		case string:
			nv.Str = &x
		case Ref:
			child, err := a.encodeNode(x, visiting)
			if err != nil {
				return nil, err
			}
			nv.Node = child
		}
		n.Items = append(n.Items, nv)
	}
	return n, nil
}

// Restore decodes a snapshot into fresh containers. The returned reference
// is owned by the caller.
func (a *Arena) Restore(data []byte) (Ref, error) {
	var n node
	if err := cbor.Unmarshal(data, &n); err != nil {
		return Ref{}, errors.Wrap(errors.PhaseContainer, errors.KindInvalidData, err, "decode snapshot")
	}
	return a.decodeNode(&n)
}

func (a *Arena) decodeNode(n *node) (Ref, error) {
	items := make([]Value, 0, len(n.Items))
	var owned []Ref
	defer func() { a.releaseAll(owned) }()

	for _, nv := range n.Items {
		switch {
		case nv.Num != nil:
			items = append(items, *nv.Num)
		case nv.Bool != nil:
			items = append(items, *nv.Bool)
		case nv.Str != nil:
			items = append(items, *nv.Str)
		case nv.Node != nil:
			child, err := a.decodeNode(nv.Node)
			if err != nil {
				return Ref{}, err
			}
			owned = append(owned, child)
			items = append(items, child)
		default:
			items = append(items, nil)
		}
	}

	switch n.Kind {
	case KindArray:
		return a.NewArray(items...)
	case KindTable:
		ref, err := a.NewTable()
		if err != nil {
			return Ref{}, err
		}
		tbl, err := a.Table(ref)
		if err == nil {
			err = tbl.InsertAll(items)
		}
		if err != nil {
			a.Release(ref)
			return Ref{}, err
		}
		return ref, nil
	case KindEntry:
		if len(items) != 2 {
			return Ref{}, errors.InvalidData(errors.PhaseContainer, nil, "entry snapshot needs a key and a value")
		}
		return a.NewEntry(Ref{}, items[0], items[1])
	}
	return Ref{}, errors.InvalidData(errors.PhaseContainer, nil, "unknown container kind in snapshot")
}
