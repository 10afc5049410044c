package arbor

import (
	"context"
	"reflect"
	"sort"

	"github.com/arbormap/arbor/store"
)

// readReferences maps a reference field. Referenced entities inside the
// filter's depth are mapped in full; beyond it only the identifier (or
// path, for bypath references) is filled in, enough to write the
// reference back or load the rest later.
func (c *opCtx) readReferences(ctx context.Context, obj reflect.Value, d *typeDesc, fd *fieldDesc, node store.Node, depth int) error {
	f := d.field(obj, fd)

	switch fd.container {
	case containerMap, containerMapOfSlice:
		return c.readReferenceMap(ctx, f, fd, node, depth)

	case containerSlice:
		if fd.lazy {
			lv := f.Addr().Interface().(lazyValue)
			lv.attach(c.referenceListLoader(ctx, node.Path(), fd.name, fd, reflect.SliceOf(fd.elem)))
			return nil
		}
		has, err := node.HasProperty(ctx, fd.name)
		if err != nil || !has {
			return err
		}
		p, err := node.Property(ctx, fd.name)
		if err != nil {
			return err
		}
		list, err := c.readReferenceList(ctx, p.Values, fd, f.Type(), depth)
		if err != nil {
			return err
		}
		f.Set(list)
		return nil

	default:
		has, err := node.HasProperty(ctx, fd.name)
		if err != nil || !has {
			return err
		}
		if fd.lazy {
			lv := f.Addr().Interface().(lazyValue)
			lv.attach(c.referenceLoader(ctx, node.Path(), fd.name, fd))
			return nil
		}
		p, err := node.Property(ctx, fd.name)
		if err != nil {
			return err
		}
		mapped, err := c.readReferencedEntity(ctx, p.Value(), fd, depth)
		if err != nil {
			return err
		}
		if mapped.IsValid() {
			f.Set(mapped)
		}
		return nil
	}
}

// resolveReference loads the node a reference value points at. Dangling
// bypath references resolve to nil; identifier references are expected to
// hold, so a missing target surfaces as a store error.
func (c *opCtx) resolveReference(ctx context.Context, v store.Value, byPath bool) (store.Node, error) {
	if byPath {
		has, err := c.sess.HasNode(ctx, v.Str)
		if err != nil || !has {
			return nil, err
		}
		return c.sess.Node(ctx, v.Str)
	}
	return c.sess.NodeByIdentifier(ctx, v.Str)
}

// readReferencedEntity builds the entity behind one reference value. The
// invalid zero Value comes back for dangling bypath references.
func (c *opCtx) readReferencedEntity(ctx context.Context, v store.Value, fd *fieldDesc, depth int) (reflect.Value, error) {
	target, err := c.resolveReference(ctx, v, fd.byPath)
	if err != nil {
		return reflect.Value{}, err
	}
	if target == nil {
		return reflect.Value{}, nil
	}
	obj, d, err := c.instantiate(ctx, target, fd.elem)
	if err != nil {
		return reflect.Value{}, err
	}
	if c.filter.IsIncluded(fd.name, depth) {
		// referenced entities do not inherit the referrer as parent
		if d.isFile {
			return c.readFileEntity(ctx, target, obj, d, fd.loadBytes, reflect.Value{}, depth)
		}
		return c.mapNode(ctx, obj, d, target, reflect.Value{}, depth+1)
	}
	if fd.byPath {
		d.setEntityPath(obj, v.Str)
	} else {
		d.setEntityID(obj, v.Str)
	}
	return obj, nil
}

func (c *opCtx) readReferenceList(ctx context.Context, values []store.Value, fd *fieldDesc, listType reflect.Type, depth int) (reflect.Value, error) {
	out := reflect.MakeSlice(listType, 0, len(values))
	for _, v := range values {
		mapped, err := c.readReferencedEntity(ctx, v, fd, depth)
		if err != nil {
			return reflect.Value{}, err
		}
		if mapped.IsValid() {
			out = reflect.Append(out, mapped)
		}
	}
	return out, nil
}

// readReferenceMap fills a reference map from the container child node
// holding one reference property per key.
func (c *opCtx) readReferenceMap(ctx context.Context, f reflect.Value, fd *fieldDesc, node store.Node, depth int) error {
	name := c.m.cleanName(fd.name)
	has, err := node.HasChild(ctx, name)
	if err != nil || !has {
		return err
	}
	container, err := node.Child(ctx, name)
	if err != nil {
		return err
	}
	props, err := container.Properties(ctx)
	if err != nil {
		return err
	}

	out := reflect.MakeMapWithSize(f.Type(), len(props))
	listType := reflect.SliceOf(fd.elem)
	for _, p := range props {
		if store.IsReservedName(p.Name) {
			continue
		}
		key := reflect.ValueOf(p.Name)
		switch {
		case fd.container == containerMapOfSlice && fd.lazy:
			ptr := reflect.New(fd.lazyType.Elem())
			ptr.Interface().(lazyValue).attach(c.referenceListLoader(ctx, container.Path(), p.Name, fd, listType))
			out.SetMapIndex(key, ptr)
		case fd.container == containerMapOfSlice:
			list, err := c.readReferenceList(ctx, p.Values, fd, listType, depth)
			if err != nil {
				return err
			}
			out.SetMapIndex(key, list)
		case fd.lazy:
			ptr := reflect.New(fd.lazyType.Elem())
			ptr.Interface().(lazyValue).attach(c.referenceLoader(ctx, container.Path(), p.Name, fd))
			out.SetMapIndex(key, ptr)
		default:
			mapped, err := c.readReferencedEntity(ctx, p.Value(), fd, depth)
			if err != nil {
				return err
			}
			if mapped.IsValid() {
				out.SetMapIndex(key, mapped)
			}
		}
	}
	f.Set(out)
	return nil
}

// referenceLoader defers resolution of a single reference. The property is
// re-read at load time, so the placeholder survives the target moving.
func (c *opCtx) referenceLoader(ctx context.Context, nodePath, propertyName string, fd *fieldDesc) func() (any, error) {
	m, sess := c.m, c.sess
	return func() (any, error) {
		m.logger().DebugContext(ctx, "resolving lazy reference", "path", nodePath, "property", propertyName)
		sub := m.newOpCtx(sess, opConfig{filter: DefaultFilter(), callback: DefaultCallback{}})
		node, err := sess.Node(ctx, nodePath)
		if err != nil {
			return nil, err
		}
		p, err := node.Property(ctx, propertyName)
		if err != nil {
			return nil, err
		}
		mapped, err := sub.readReferencedEntity(ctx, p.Value(), fd, 0)
		if err != nil {
			return nil, err
		}
		if !mapped.IsValid() {
			return reflect.Zero(fd.elem).Interface(), nil
		}
		return mapped.Interface(), nil
	}
}

func (c *opCtx) referenceListLoader(ctx context.Context, nodePath, propertyName string, fd *fieldDesc, listType reflect.Type) func() (any, error) {
	m, sess := c.m, c.sess
	return func() (any, error) {
		m.logger().DebugContext(ctx, "resolving lazy reference list", "path", nodePath, "property", propertyName)
		sub := m.newOpCtx(sess, opConfig{filter: DefaultFilter(), callback: DefaultCallback{}})
		node, err := sess.Node(ctx, nodePath)
		if err != nil {
			return nil, err
		}
		has, err := node.HasProperty(ctx, propertyName)
		if err != nil {
			return nil, err
		}
		if !has {
			return reflect.MakeSlice(listType, 0, 0).Interface(), nil
		}
		p, err := node.Property(ctx, propertyName)
		if err != nil {
			return nil, err
		}
		list, err := sub.readReferenceList(ctx, p.Values, fd, listType, 0)
		if err != nil {
			return nil, err
		}
		return list.Interface(), nil
	}
}

// referenceValue builds the property value pointing at an entity, or an
// invalid zero Value when the entity cannot be referenced yet (no path or
// identifier, or a bypath target that does not exist).
func (c *opCtx) referenceValue(ctx context.Context, entity reflect.Value, fd *fieldDesc) (store.Value, bool, error) {
	d, err := c.m.descriptorForValue(entity)
	if err != nil {
		return store.Value{}, false, err
	}
	if fd.byPath {
		path := d.entityPath(entity)
		if path == "" {
			return store.Value{}, false, nil
		}
		has, err := c.sess.HasNode(ctx, path)
		if err != nil || !has {
			return store.Value{}, false, err
		}
		return store.StringValue(path), true, nil
	}
	id := d.entityID(entity)
	if id == "" {
		return store.Value{}, false, nil
	}
	// resolve to validate the target exists
	if _, err := c.sess.NodeByIdentifier(ctx, id); err != nil {
		return store.Value{}, false, err
	}
	if fd.weak {
		return store.WeakReferenceValue(id), true, nil
	}
	return store.ReferenceValue(id), true, nil
}

// writeReferences stores a reference field. References to entities that
// have never been added (no identifier or path yet) are skipped, and a nil
// field clears the stored reference.
func (c *opCtx) writeReferences(ctx context.Context, obj reflect.Value, d *typeDesc, fd *fieldDesc, node store.Node) error {
	f := d.field(obj, fd)

	switch fd.container {
	case containerMap, containerMapOfSlice:
		return c.writeReferenceMap(ctx, f, fd, node)

	case containerSlice:
		entities, ok, err := resolveEntityList(f, fd)
		if err != nil || !ok {
			return err
		}
		if entities == nil {
			return removeNodeProperty(ctx, node, fd.name)
		}
		values, err := c.collectReferenceValues(ctx, entities, fd)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			return removeNodeProperty(ctx, node, fd.name)
		}
		return setNodePropertyValues(ctx, node, fd.name, values)

	default:
		entity, ok, err := resolveEntity(f, fd)
		if err != nil || !ok {
			return err
		}
		if isNilEntity(entity) {
			return removeNodeProperty(ctx, node, fd.name)
		}
		v, ok, err := c.referenceValue(ctx, entity, fd)
		if err != nil {
			return err
		}
		if !ok {
			// an entity that was never added has no identifier yet: that
			// clears the reference, while an unresolvable path leaves the
			// stored one alone
			if !fd.byPath {
				return removeNodeProperty(ctx, node, fd.name)
			}
			return nil
		}
		return setNodeProperty(ctx, node, fd.name, v)
	}
}

func (c *opCtx) collectReferenceValues(ctx context.Context, entities []reflect.Value, fd *fieldDesc) ([]store.Value, error) {
	values := make([]store.Value, 0, len(entities))
	for _, e := range entities {
		if isNilEntity(e) {
			continue
		}
		v, ok, err := c.referenceValue(ctx, e, fd)
		if err != nil {
			return nil, err
		}
		if ok {
			values = append(values, v)
		}
	}
	return values, nil
}

// writeReferenceMap replaces the reference container wholesale: the old
// container is dropped and rebuilt from the map. Unresolved lazy entries
// cannot be preserved across the rebuild and are skipped.
func (c *opCtx) writeReferenceMap(ctx context.Context, f reflect.Value, fd *fieldDesc, node store.Node) error {
	name := c.m.cleanName(fd.name)
	if err := removeChild(ctx, node, name); err != nil {
		return err
	}
	container, err := node.AddChild(ctx, name, store.TypeUnstructured)
	if err != nil {
		return err
	}
	if f.IsNil() {
		return nil
	}

	keys := make([]string, 0, f.Len())
	for _, k := range f.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)

	for _, k := range keys {
		mv := f.MapIndex(reflect.ValueOf(k))
		key := c.m.cleanName(k)
		if fd.container == containerMapOfSlice {
			entities, ok, err := resolveEntityList(mv, fd)
			if err != nil {
				return err
			}
			if !ok || entities == nil {
				continue
			}
			values, err := c.collectReferenceValues(ctx, entities, fd)
			if err != nil {
				return err
			}
			if len(values) > 0 {
				if err := container.SetPropertyValues(ctx, key, values); err != nil {
					return err
				}
			}
			continue
		}
		entity, ok, err := resolveEntity(mv, fd)
		if err != nil {
			return err
		}
		if !ok || isNilEntity(entity) {
			continue
		}
		v, ok, err := c.referenceValue(ctx, entity, fd)
		if err != nil || !ok {
			return err
		}
		if err := container.SetProperty(ctx, key, v); err != nil {
			return err
		}
	}
	return nil
}
