package arbor

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/arbormap/arbor/store"
)

// readChildren maps a child field from the node. Single children live in a
// node named after the field; collections live under a container node of
// that name. Lazy fields receive placeholders that load on first use.
func (c *opCtx) readChildren(ctx context.Context, obj reflect.Value, d *typeDesc, fd *fieldDesc, node store.Node, depth int) error {
	if fd.lazy {
		if !c.filter.IsNameIncluded(fd.name) {
			return nil
		}
	} else if !c.filter.IsIncluded(fd.name, depth) {
		return nil
	}

	name := c.m.cleanName(fd.name)
	has, err := node.HasChild(ctx, name)
	if err != nil || !has {
		return err
	}
	child, err := node.Child(ctx, name)
	if err != nil {
		return err
	}
	f := d.field(obj, fd)

	switch fd.container {
	case containerSingle:
		if fd.lazy {
			lv := f.Addr().Interface().(lazyValue)
			lv.attach(c.entityLoader(ctx, child.Path(), fd.elem))
			return nil
		}
		mapped, err := c.readChildEntity(ctx, child, fd.elem, obj, depth)
		if err != nil {
			return err
		}
		f.Set(mapped)
		return nil

	case containerSlice:
		if fd.lazy {
			lv := f.Addr().Interface().(lazyValue)
			lv.attach(c.entityListLoader(ctx, child.Path(), reflect.SliceOf(fd.elem), fd.elem))
			return nil
		}
		list, err := c.readChildList(ctx, child, f.Type(), fd.elem, obj, depth)
		if err != nil {
			return err
		}
		f.Set(list)
		return nil

	case containerMap:
		entries, err := child.Children(ctx)
		if err != nil {
			return err
		}
		out := reflect.MakeMapWithSize(f.Type(), len(entries))
		for _, entry := range entries {
			key := reflect.ValueOf(entry.Name())
			if fd.lazy {
				ptr := reflect.New(fd.lazyType.Elem())
				ptr.Interface().(lazyValue).attach(c.entityLoader(ctx, entry.Path(), fd.elem))
				out.SetMapIndex(key, ptr)
				continue
			}
			mapped, err := c.readChildEntity(ctx, entry, fd.elem, obj, depth)
			if err != nil {
				return err
			}
			out.SetMapIndex(key, mapped)
		}
		f.Set(out)
		return nil

	case containerMapOfSlice:
		entries, err := child.Children(ctx)
		if err != nil {
			return err
		}
		out := reflect.MakeMapWithSize(f.Type(), len(entries))
		listType := reflect.SliceOf(fd.elem)
		for _, entry := range entries {
			key := reflect.ValueOf(entry.Name())
			if fd.lazy {
				ptr := reflect.New(fd.lazyType.Elem())
				ptr.Interface().(lazyValue).attach(c.entityListLoader(ctx, entry.Path(), listType, fd.elem))
				out.SetMapIndex(key, ptr)
				continue
			}
			list, err := c.readChildList(ctx, entry, listType, fd.elem, obj, depth)
			if err != nil {
				return err
			}
			out.SetMapIndex(key, list)
		}
		f.Set(out)
		return nil
	}
	return nil
}

// readChildEntity maps one stored child node, redirecting frozen child
// stand-ins to their recorded state first.
func (c *opCtx) readChildEntity(ctx context.Context, node store.Node, static reflect.Type, parent reflect.Value, depth int) (reflect.Value, error) {
	node, err := c.versionedVariant(ctx, node)
	if err != nil {
		return reflect.Value{}, err
	}
	obj, d, err := c.instantiate(ctx, node, static)
	if err != nil {
		return reflect.Value{}, err
	}
	if d.isFile {
		return c.readFileEntity(ctx, node, obj, d, false, parent, depth)
	}
	return c.mapNode(ctx, obj, d, node, parent, depth+1)
}

func (c *opCtx) readChildList(ctx context.Context, container store.Node, listType, static reflect.Type, parent reflect.Value, depth int) (reflect.Value, error) {
	entries, err := container.Children(ctx)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.MakeSlice(listType, 0, len(entries))
	for _, entry := range entries {
		mapped, err := c.readChildEntity(ctx, entry, static, parent, depth)
		if err != nil {
			return reflect.Value{}, err
		}
		out = reflect.Append(out, mapped)
	}
	return out, nil
}

// entityLoader builds the deferred load for a lazy single entity. The load
// runs against the session that produced the placeholder and maps the node
// in full.
func (c *opCtx) entityLoader(ctx context.Context, path string, static reflect.Type) func() (any, error) {
	m, sess := c.m, c.sess
	return func() (any, error) {
		m.logger().DebugContext(ctx, "resolving lazy entity", "path", path)
		sub := m.newOpCtx(sess, opConfig{filter: DefaultFilter(), callback: DefaultCallback{}})
		node, err := sess.Node(ctx, path)
		if err != nil {
			return nil, err
		}
		node, err = sub.versionedVariant(ctx, node)
		if err != nil {
			return nil, err
		}
		mapped, err := sub.readEntity(ctx, node, static)
		if err != nil {
			return nil, err
		}
		return mapped.Interface(), nil
	}
}

// entityListLoader builds the deferred load for a lazy entity list stored
// under a container node.
func (c *opCtx) entityListLoader(ctx context.Context, containerPath string, listType, static reflect.Type) func() (any, error) {
	m, sess := c.m, c.sess
	return func() (any, error) {
		m.logger().DebugContext(ctx, "resolving lazy entity list", "path", containerPath)
		sub := m.newOpCtx(sess, opConfig{filter: DefaultFilter(), callback: DefaultCallback{}})
		container, err := sess.Node(ctx, containerPath)
		if err != nil {
			return nil, err
		}
		list, err := sub.readChildList(ctx, container, listType, static, reflect.Value{}, 0)
		if err != nil {
			return nil, err
		}
		return list.Interface(), nil
	}
}

// writeChildren stores a child field under the node, creating, updating
// and removing child nodes so the stored state converges on the field
// value. Lazy placeholders that were never set or loaded leave the stored
// state alone.
func (c *opCtx) writeChildren(ctx context.Context, obj reflect.Value, d *typeDesc, fd *fieldDesc, node store.Node, depth int) error {
	name := c.m.cleanName(fd.name)
	f := d.field(obj, fd)

	switch fd.container {
	case containerSingle:
		entity, ok, err := resolveEntity(f, fd)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return c.writeSingleChild(ctx, node, name, entity, depth)

	case containerSlice:
		entities, ok, err := resolveEntityList(f, fd)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if entities == nil {
			return removeChild(ctx, node, name)
		}
		container, err := ensureChild(ctx, node, name, store.TypeUnstructured)
		if err != nil {
			return err
		}
		return c.writeChildList(ctx, container, entities, depth)

	case containerMap, containerMapOfSlice:
		if f.IsNil() {
			return removeChild(ctx, node, name)
		}
		container, err := ensureChild(ctx, node, name, store.TypeUnstructured)
		if err != nil {
			return err
		}
		return c.writeChildMap(ctx, container, f, fd, store.TypeUnstructured, depth)
	}
	return nil
}

// writeSingleChild stores one entity in a child node named after the
// field. A nil entity removes the node.
func (c *opCtx) writeSingleChild(ctx context.Context, node store.Node, name string, entity reflect.Value, depth int) error {
	if isNilEntity(entity) {
		return removeChild(ctx, node, name)
	}
	d, err := c.m.descriptorForValue(entity)
	if err != nil {
		return err
	}
	// single children are named after the field, not the entity
	d.setEntityName(entity, name)

	has, err := node.HasChild(ctx, name)
	if err != nil {
		return err
	}
	if has {
		child, err := node.Child(ctx, name)
		if err != nil {
			return err
		}
		_, err = c.updateEntityNode(ctx, child, entity, d, depth+1)
		return err
	}
	_, err = c.addEntityNode(ctx, node, entity, d, nil, true)
	return err
}

// writeChildList converges the container's children on the given entities.
// Stored children whose paths no entity claims are removed; entities with
// a matching stored path are updated in place, the rest are added.
func (c *opCtx) writeChildList(ctx context.Context, container store.Node, entities []reflect.Value, depth int) error {
	keep := make(map[string]bool, len(entities))
	for _, e := range entities {
		d, err := c.m.descriptorForValue(e)
		if err != nil {
			return err
		}
		if path := d.entityPath(e); path != "" {
			keep[path] = true
		}
	}
	stored, err := container.Children(ctx)
	if err != nil {
		return err
	}
	for _, s := range stored {
		if !keep[s.Path()] {
			if err := s.Remove(ctx); err != nil {
				return err
			}
		}
	}
	for _, e := range entities {
		d, err := c.m.descriptorForValue(e)
		if err != nil {
			return err
		}
		path := d.entityPath(e)
		if path != "" && store.ParentPath(path) == container.Path() {
			has, err := container.HasChild(ctx, store.BaseName(path))
			if err != nil {
				return err
			}
			if has {
				child, err := container.Child(ctx, store.BaseName(path))
				if err != nil {
					return err
				}
				if _, err := c.updateEntityNode(ctx, child, e, d, depth+1); err != nil {
					return err
				}
				continue
			}
		}
		if _, err := c.addEntityNode(ctx, container, e, d, nil, true); err != nil {
			return err
		}
	}
	return nil
}

// writeChildMap converges the container's children on the map entries,
// keyed by cleaned map key. Entries whose lazy value never resolved keep
// their stored state. subType is the node type for per-key list
// containers.
func (c *opCtx) writeChildMap(ctx context.Context, container store.Node, f reflect.Value, fd *fieldDesc, subType string, depth int) error {
	type entry struct {
		key   string
		value reflect.Value
		list  []reflect.Value
	}
	entries := make(map[string]entry, f.Len())
	preserve := make(map[string]bool)

	for _, k := range f.MapKeys() {
		key := c.m.cleanName(k.String())
		mv := f.MapIndex(k)
		if fd.container == containerMapOfSlice {
			list, ok, err := resolveEntityList(mv, fd)
			if err != nil {
				return err
			}
			if !ok {
				preserve[key] = true
				continue
			}
			entries[key] = entry{key: key, list: list}
			continue
		}
		e, ok, err := resolveEntity(mv, fd)
		if err != nil {
			return err
		}
		if !ok {
			preserve[key] = true
			continue
		}
		entries[key] = entry{key: key, value: e}
	}

	stored, err := container.Children(ctx)
	if err != nil {
		return err
	}
	for _, s := range stored {
		if _, ok := entries[s.Name()]; !ok && !preserve[s.Name()] {
			if err := s.Remove(ctx); err != nil {
				return err
			}
		}
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		e := entries[key]
		if fd.container == containerMapOfSlice {
			sub, err := ensureChild(ctx, container, key, subType)
			if err != nil {
				return err
			}
			if err := c.writeChildList(ctx, sub, e.list, depth); err != nil {
				return err
			}
			continue
		}
		if err := c.writeSingleChild(ctx, container, key, e.value, depth); err != nil {
			return err
		}
	}
	return nil
}

// resolveEntity unwraps an entity field value for writing. The second
// result is false when a lazy placeholder holds neither a value nor a
// loader, meaning the stored state should be preserved.
func resolveEntity(f reflect.Value, fd *fieldDesc) (reflect.Value, bool, error) {
	if !fd.lazy {
		return f, true, nil
	}
	lv, err := asLazyValue(f)
	if err != nil {
		return reflect.Value{}, false, err
	}
	if lv == nil {
		return reflect.Value{}, false, nil
	}
	v, ok, err := lv.resolveForWrite()
	if err != nil || !ok {
		return reflect.Value{}, false, err
	}
	return reflect.ValueOf(v), true, nil
}

func resolveEntityList(f reflect.Value, fd *fieldDesc) ([]reflect.Value, bool, error) {
	var list reflect.Value
	if fd.lazy {
		lv, err := asLazyValue(f)
		if err != nil {
			return nil, false, err
		}
		if lv == nil {
			return nil, false, nil
		}
		v, ok, err := lv.resolveForWrite()
		if err != nil || !ok {
			return nil, false, err
		}
		list = reflect.ValueOf(v)
	} else {
		list = f
	}
	if list.Kind() != reflect.Slice {
		return nil, false, fmt.Errorf("expected slice, got %s: %w", list.Type(), ErrUnsupportedType)
	}
	if list.IsNil() {
		return nil, true, nil
	}
	out := make([]reflect.Value, list.Len())
	for i := range out {
		out[i] = list.Index(i)
	}
	return out, true, nil
}

// asLazyValue extracts the lazyValue hook from a Lazy field or *Lazy map
// value. A nil *Lazy pointer yields nil.
func asLazyValue(f reflect.Value) (lazyValue, error) {
	if f.Kind() == reflect.Pointer {
		if f.IsNil() {
			return nil, nil
		}
		lv, ok := f.Interface().(lazyValue)
		if !ok {
			return nil, fmt.Errorf("%s is not a Lazy value: %w", f.Type(), ErrUnsupportedType)
		}
		return lv, nil
	}
	if !f.CanAddr() {
		// map values are not addressable; copy to reach the hook methods
		ptr := reflect.New(f.Type())
		ptr.Elem().Set(f)
		f = ptr.Elem()
	}
	lv, ok := f.Addr().Interface().(lazyValue)
	if !ok {
		return nil, fmt.Errorf("%s is not a Lazy value: %w", f.Type(), ErrUnsupportedType)
	}
	return lv, nil
}

func isNilEntity(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func ensureChild(ctx context.Context, node store.Node, name, primaryType string) (store.Node, error) {
	has, err := node.HasChild(ctx, name)
	if err != nil {
		return nil, err
	}
	if has {
		return node.Child(ctx, name)
	}
	return node.AddChild(ctx, name, primaryType)
}

func removeChild(ctx context.Context, node store.Node, name string) error {
	has, err := node.HasChild(ctx, name)
	if err != nil || !has {
		return err
	}
	child, err := node.Child(ctx, name)
	if err != nil {
		return err
	}
	return child.Remove(ctx)
}
