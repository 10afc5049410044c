package memstore

import (
	"context"
	"fmt"

	"github.com/arbormap/arbor/store"
)

const (
	typeVersionHistory = "sys:versionHistory"
	typeVersionedChild = "sys:versionedChild"
)

// versionManager implements the check-in/check-out facility over a
// session's snapshot. Version histories live under the hidden
// sys:versionStorage node, one history per versionable node, addressed by
// the node's identifier.
type versionManager struct {
	s *session
}

func (vm *versionManager) target(path string) (*node, error) {
	if err := vm.s.check(); err != nil {
		return nil, err
	}
	n := vm.s.nodeAt(path)
	if n == nil {
		return nil, store.ErrNodeNotFound
	}
	return n, nil
}

func (vm *versionManager) IsCheckedOut(ctx context.Context, path string) (bool, error) {
	n, err := vm.target(path)
	if err != nil {
		return false, err
	}
	if !n.hasMixin(store.MixinVersionable) {
		return true, nil
	}
	return n.checkedOut, nil
}

func (vm *versionManager) Checkout(ctx context.Context, path string) error {
	n, err := vm.target(path)
	if err != nil {
		return err
	}
	if !n.hasMixin(store.MixinVersionable) {
		return store.ErrVersioningUnsupported
	}
	n.checkedOut = true
	return nil
}

func (vm *versionManager) Checkin(ctx context.Context, path string) (*store.Version, error) {
	n, err := vm.target(path)
	if err != nil {
		return nil, err
	}
	if !n.hasMixin(store.MixinVersionable) {
		return nil, store.ErrVersioningUnsupported
	}
	if !n.checkedOut {
		// checking in a checked-in node is a no-op returning the base
		return vm.BaseVersion(ctx, path)
	}
	history := vm.historyFor(n, true)
	name := nextVersionName(history)
	v := vm.s.addVersion(history, n, name)
	n.checkedOut = false
	return &store.Version{Name: v.name, Created: v.created}, nil
}

func (vm *versionManager) BaseVersion(ctx context.Context, path string) (*store.Version, error) {
	n, err := vm.target(path)
	if err != nil {
		return nil, err
	}
	if !n.hasMixin(store.MixinVersionable) {
		return nil, store.ErrVersioningUnsupported
	}
	history := vm.historyFor(n, false)
	if history != nil {
		for i := len(history.children) - 1; i >= 0; i-- {
			if v := history.children[i]; v.name != store.RootVersionName {
				return &store.Version{Name: v.name, Created: v.created}, nil
			}
		}
	}
	return &store.Version{Name: store.RootVersionName, Created: n.created}, nil
}

func (vm *versionManager) Versions(ctx context.Context, path string) ([]*store.Version, error) {
	n, err := vm.target(path)
	if err != nil {
		return nil, err
	}
	if !n.hasMixin(store.MixinVersionable) {
		return nil, store.ErrVersioningUnsupported
	}
	history := vm.historyFor(n, false)
	if history == nil {
		return []*store.Version{{Name: store.RootVersionName, Created: n.created}}, nil
	}
	out := make([]*store.Version, len(history.children))
	for i, v := range history.children {
		out[i] = &store.Version{Name: v.name, Created: v.created}
	}
	return out, nil
}

func (vm *versionManager) Restore(ctx context.Context, path, versionName string) error {
	n, err := vm.target(path)
	if err != nil {
		return err
	}
	if !n.hasMixin(store.MixinVersionable) {
		return store.ErrVersioningUnsupported
	}
	history := vm.historyFor(n, false)
	if history == nil {
		return store.ErrNodeNotFound
	}
	version := history.findChild(versionName)
	if version == nil {
		return store.ErrNodeNotFound
	}
	frozen := version.findChild(store.FrozenNodeName)
	if frozen == nil {
		return store.ErrNodeNotFound
	}

	thawed := vm.thaw(frozen, versionName)
	n.props = thawed.props
	n.mixins = thawed.mixins
	n.children = thawed.children
	for _, c := range n.children {
		c.parent = n
	}
	n.checkedOut = false
	return nil
}

// historyFor finds (or creates) the version history of a node. The history
// is a child of the version storage node named by the node's identifier.
func (vm *versionManager) historyFor(n *node, create bool) *node {
	for _, h := range vm.s.versions.children {
		if h.name == n.id {
			return h
		}
	}
	if !create {
		return nil
	}
	h := newNode(n.id, typeVersionHistory, vm.s.now())
	h.parent = vm.s.versions
	vm.s.versions.children = append(vm.s.versions.children, h)
	// every history starts with an empty root version
	rootVersion := newNode(store.RootVersionName, store.TypeVersion, vm.s.now())
	rootVersion.parent = h
	h.children = append(h.children, rootVersion)
	return h
}

func nextVersionName(history *node) string {
	count := 0
	for _, v := range history.children {
		if v.name != store.RootVersionName {
			count++
		}
	}
	return fmt.Sprintf("1.%d", count)
}

// addVersion freezes the node's current state under the history. Reused by
// descendant check-ins, which pin the version name to the ancestor's so
// frozen stand-ins resolve across histories.
func (s *session) addVersion(history *node, n *node, name string) *node {
	if existing := history.findChild(name); existing != nil {
		return existing
	}
	version := newNode(name, store.TypeVersion, s.now())
	version.parent = history
	frozen := s.freeze(n, name)
	frozen.name = store.FrozenNodeName
	frozen.parent = version
	version.children = append(version.children, frozen)
	history.children = append(history.children, version)
	return version
}

// freeze deep-copies a subtree for a version snapshot. Versionable
// descendants are not copied in place; each gets a version of the same
// name in its own history and a stand-in node pointing at that history.
func (s *session) freeze(n *node, versionName string) *node {
	out := &node{
		id:          n.id,
		name:        n.name,
		primaryType: n.primaryType,
		created:     n.created,
		checkedOut:  n.checkedOut,
		mixins:      append([]string(nil), n.mixins...),
	}
	out.props = make([]*prop, len(n.props))
	for i, p := range n.props {
		out.props[i] = &prop{
			name:     p.name,
			multiple: p.multiple,
			values:   append([]store.Value(nil), p.values...),
		}
	}
	for _, c := range n.children {
		if c.hasMixin(store.MixinVersionable) {
			vm := &versionManager{s: s}
			childHistory := vm.historyFor(c, true)
			s.addVersion(childHistory, c, versionName)
			standIn := newNode(c.name, typeVersionedChild, s.now())
			standIn.setProp(store.PropChildVersionHistory, false,
				[]store.Value{store.StringValue(childHistory.id)})
			standIn.parent = out
			out.children = append(out.children, standIn)
			continue
		}
		fc := s.freeze(c, versionName)
		fc.parent = out
		out.children = append(out.children, fc)
	}
	return out
}

// thaw rebuilds live state from a frozen subtree, expanding stand-ins back
// into the referenced child's frozen state for the same version name.
func (vm *versionManager) thaw(frozen *node, versionName string) *node {
	out := frozen.clone(nil)
	for i, c := range out.children {
		if c.primaryType != typeVersionedChild {
			continue
		}
		p := c.findProp(store.PropChildVersionHistory)
		if p == nil || len(p.values) == 0 {
			continue
		}
		history := findByID(vm.s.versions, p.values[0].Str)
		if history == nil {
			continue
		}
		version := history.findChild(versionName)
		if version == nil {
			continue
		}
		childFrozen := version.findChild(store.FrozenNodeName)
		if childFrozen == nil {
			continue
		}
		thawed := vm.thaw(childFrozen, versionName)
		thawed.name = c.name
		thawed.parent = out
		out.children[i] = thawed
	}
	return out
}
