package mini

// gcThreshold is the number of foreign allocations between automatic
// collections.
const gcThreshold = 256

func (vm *VM) maybeCollect() {
	if vm.allocs >= gcThreshold {
		vm.CollectGarbage()
	}
}

// CollectGarbage finalizes foreign objects no longer reachable from module
// variables, handles or slots. It does nothing while guest code is running.
func (vm *VM) CollectGarbage() {
	if vm.depth > 0 || vm.freed {
		return
	}
	vm.allocs = 0

	marked := make(map[any]struct{})
	var mark func(v any)
	mark = func(v any) {
		switch x := v.(type) {
		case *List, *Map, *MapEntry, *Instance, *Foreign, *Class:
			if _, seen := marked[x]; seen {
				return
			}
			marked[x] = struct{}{}
		default:
			return
		}
		switch x := v.(type) {
		case *List:
			for _, e := range x.elems {
				mark(e)
			}
		case *Map:
			for p := x.m.Oldest(); p != nil; p = p.Next() {
				mark(p.Key)
				mark(p.Value)
			}
		case *MapEntry:
			mark(x.key)
			mark(x.value)
		case *Instance:
			mark(x.class)
			for _, f := range x.fields {
				mark(f)
			}
		case *Foreign:
			mark(x.class)
		case *Class:
			if x.super != nil {
				mark(x.super)
			}
			for _, f := range x.staticFields {
				mark(f)
			}
		}
	}

	for _, v := range vm.core.mod.vars {
		mark(v)
	}
	for _, m := range vm.modules {
		for _, v := range m.vars {
			mark(v)
		}
	}
	for h := range vm.handles {
		mark(h.v)
	}
	for _, v := range vm.slots {
		mark(v)
	}

	live := vm.foreigns[:0]
	var dead []*Foreign
	for _, f := range vm.foreigns {
		if _, ok := marked[f]; ok {
			live = append(live, f)
		} else {
			dead = append(dead, f)
		}
	}
	clear(vm.foreigns[len(live):])
	vm.foreigns = live
	for _, f := range dead {
		vm.finalize(f)
	}
}

func (vm *VM) finalize(f *Foreign) {
	if f.finalized {
		return
	}
	f.finalized = true
	if fin := f.class.binding.Finalize; fin != nil {
		fin(f.data)
	}
}

// Free finalizes every foreign object and drops all state. The VM must not
// be used afterwards.
func (vm *VM) Free() {
	if vm.freed {
		return
	}
	vm.freed = true
	for _, f := range vm.foreigns {
		vm.finalize(f)
	}
	vm.foreigns = nil
	vm.modules = nil
	vm.handles = nil
	vm.slots = nil
	vm.frames = nil
}
