package arbor

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/arbormap/arbor/store"
)

// resolveType decides the concrete struct type behind a stored node. With
// dynamic instantiation off the static type always wins. With it on, the
// discriminator property is consulted: a value naming a registered type
// selects that type, a value naming a known but unregistered type is an
// error, and anything else falls back to the static type.
func (c *opCtx) resolveType(ctx context.Context, node store.Node, static reflect.Type) (reflect.Type, error) {
	var staticStruct reflect.Type
	switch {
	case static == nil:
	case static.Kind() == reflect.Pointer:
		staticStruct = static.Elem()
	case static.Kind() == reflect.Struct:
		staticStruct = static
	}

	if !c.m.dynamic() {
		if staticStruct == nil {
			return nil, fmt.Errorf("cannot instantiate %s without dynamic instantiation: %w", static, ErrUnsupportedType)
		}
		return staticStruct, nil
	}

	prop := DefaultDiscriminator
	if staticStruct != nil {
		if d, err := c.m.descriptor(staticStruct); err == nil {
			prop = d.discriminatorProperty()
		}
	}

	has, err := node.HasProperty(ctx, prop)
	if err != nil {
		return nil, err
	}
	if has {
		p, err := node.Property(ctx, prop)
		if err != nil {
			return nil, err
		}
		name := p.Value().Str
		if t, ok := c.m.typeByName(name); ok {
			return t, nil
		}
		if _, ok := c.m.knownByName(name); ok {
			return nil, fmt.Errorf("stored type %s: %w", name, ErrNotRegistered)
		}
		c.m.logger().DebugContext(ctx, "unknown stored type, using declared type",
			"stored", name, "node", node.Path())
	}
	if staticStruct == nil {
		return nil, fmt.Errorf("node %s carries no resolvable type: %w", node.Path(), ErrNotRegistered)
	}
	return staticStruct, nil
}

// instantiate creates a fresh instance of the type node maps to, returning
// the pointer value and the type's descriptor.
func (c *opCtx) instantiate(ctx context.Context, node store.Node, static reflect.Type) (reflect.Value, *typeDesc, error) {
	t, err := c.resolveType(ctx, node, static)
	if err != nil {
		return reflect.Value{}, nil, err
	}
	d, err := c.m.descriptor(t)
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return reflect.New(t), d, nil
}

// readEntity maps a node into a fresh instance. static is the declared
// entity type (*T or an interface), which dynamic instantiation may
// override.
func (c *opCtx) readEntity(ctx context.Context, node store.Node, static reflect.Type) (reflect.Value, error) {
	obj, d, err := c.instantiate(ctx, node, static)
	if err != nil {
		return reflect.Value{}, err
	}
	return c.mapNode(ctx, obj, d, node, reflect.Value{}, 0)
}

// mapNode fills obj from node at the given depth. The returned value is
// the instance to use: when the node was already mapped with the same
// remaining depth, the instance built back then comes back instead of obj.
func (c *opCtx) mapNode(ctx context.Context, obj reflect.Value, d *typeDesc, node store.Node, parent reflect.Value, depth int) (reflect.Value, error) {
	// the name is set before consulting the history so a cached instance
	// is never half-initialized
	if !d.isFile {
		d.setEntityName(obj, node.Name())
	}

	key := c.key(node.Path(), depth)
	if prev, ok := c.history[key]; ok {
		return prev, nil
	}
	c.history[key] = obj

	for _, fd := range d.fields {
		var err error
		switch fd.kind {
		case kindID:
			d.setEntityID(obj, node.Identifier())
		case kindPath:
			d.setEntityPath(obj, node.Path())
		case kindParent:
			f := d.field(obj, fd)
			if parent.IsValid() && parent.Type().AssignableTo(f.Type()) {
				f.Set(parent)
			}
		case kindProperty:
			if c.filter.IsPropertyDepthIncluded(depth) {
				err = c.readProperty(ctx, obj, d, fd, node, depth)
			}
		case kindSerialized:
			if c.filter.IsPropertyDepthIncluded(depth) {
				err = c.readSerialized(ctx, obj, d, fd, node)
			}
		case kindChild:
			if fd.lazy || c.filter.IsDepthIncluded(depth) {
				err = c.readChildren(ctx, obj, d, fd, node, depth)
			}
		case kindFile:
			if fd.lazy || c.filter.IsDepthIncluded(depth) {
				err = c.readFiles(ctx, obj, d, fd, node, depth)
			}
		case kindReference:
			err = c.readReferences(ctx, obj, d, fd, node, depth)
		case kindCreated:
			err = c.readTimeProperty(ctx, obj, d, fd, node, store.PropCreated)
		case kindCheckedOut:
			err = c.readCheckedOut(ctx, obj, d, fd, node)
		case kindBaseVersionName, kindBaseVersionCreated, kindVersionName, kindVersionCreated:
			err = c.readVersionMeta(ctx, obj, d, fd, node)
		}
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%s: %w", fieldName(d.typ, fd), err)
		}
	}
	return obj, nil
}

func (c *opCtx) readTimeProperty(ctx context.Context, obj reflect.Value, d *typeDesc, fd *fieldDesc, node store.Node, name string) error {
	has, err := node.HasProperty(ctx, name)
	if err != nil || !has {
		return err
	}
	p, err := node.Property(ctx, name)
	if err != nil {
		return err
	}
	d.field(obj, fd).Set(reflect.ValueOf(p.Value().Time))
	return nil
}

// readCheckedOut reports writability. Stores without versioning treat
// every node as checked out.
func (c *opCtx) readCheckedOut(ctx context.Context, obj reflect.Value, d *typeDesc, fd *fieldDesc, node store.Node) error {
	vm, err := c.sess.VersionManager()
	if err != nil {
		if errors.Is(err, store.ErrVersioningUnsupported) {
			d.field(obj, fd).SetBool(true)
			return nil
		}
		return err
	}
	out, err := vm.IsCheckedOut(ctx, node.Path())
	if err != nil {
		return err
	}
	d.field(obj, fd).SetBool(out)
	return nil
}

// readVersionMeta fills version name and timestamp fields. A frozen node
// inside a version history reports the version it belongs to; a live
// versionable node reports its base version; anything else stays zero.
func (c *opCtx) readVersionMeta(ctx context.Context, obj reflect.Value, d *typeDesc, fd *fieldDesc, node store.Node) error {
	if fd.kind == kindVersionName || fd.kind == kindVersionCreated {
		parent, err := node.Parent(ctx)
		switch {
		case err == nil && parent.PrimaryType() == store.TypeVersion:
			if fd.kind == kindVersionName {
				d.field(obj, fd).SetString(parent.Name())
				return nil
			}
			return c.readTimeProperty(ctx, obj, d, fd, parent, store.PropCreated)
		case err != nil && !errors.Is(err, store.ErrNodeNotFound):
			return err
		}
	}

	versionable, err := node.HasMixin(ctx, store.MixinVersionable)
	if err != nil || !versionable {
		return err
	}
	vm, err := c.sess.VersionManager()
	if err != nil {
		if errors.Is(err, store.ErrVersioningUnsupported) {
			return nil
		}
		return err
	}
	base, err := vm.BaseVersion(ctx, node.Path())
	if err != nil {
		return err
	}
	switch fd.kind {
	case kindBaseVersionName, kindVersionName:
		d.field(obj, fd).SetString(base.Name)
	case kindBaseVersionCreated, kindVersionCreated:
		d.field(obj, fd).Set(reflect.ValueOf(base.Created))
	}
	return nil
}

// versionedVariant redirects a frozen child stand-in to the frozen state
// recorded in the child's own version history. The stand-in's path embeds
// the version name, which picks the matching version out of the history.
// Live nodes come back unchanged.
func (c *opCtx) versionedVariant(ctx context.Context, node store.Node) (store.Node, error) {
	has, err := node.HasProperty(ctx, store.PropChildVersionHistory)
	if err != nil || !has {
		return node, err
	}
	p, err := node.Property(ctx, store.PropChildVersionHistory)
	if err != nil {
		return nil, err
	}
	history, err := c.sess.NodeByIdentifier(ctx, p.Value().Str)
	if err != nil {
		return nil, err
	}
	versions, err := history.Children(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.Name() == store.RootVersionName || v.PrimaryType() != store.TypeVersion {
			continue
		}
		hasFrozen, err := v.HasChild(ctx, store.FrozenNodeName)
		if err != nil {
			return nil, err
		}
		if hasFrozen && pathContainsSegment(node.Path(), v.Name()) {
			return v.Child(ctx, store.FrozenNodeName)
		}
	}
	return node, nil
}

func pathContainsSegment(path, segment string) bool {
	for _, part := range store.Components(path) {
		if part == segment {
			return true
		}
	}
	return false
}

// mapParent walks up from node to the nearest ancestor that resolves to a
// registered type and maps it shallowly onto obj's parent field. Ancestor
// resolution rides on the discriminator alone, so this only finds parents
// when dynamic instantiation is on.
func (c *opCtx) mapParent(ctx context.Context, obj reflect.Value, d *typeDesc, node store.Node) error {
	if d.parentField == nil || !c.m.dynamic() {
		return nil
	}
	f := d.field(obj, d.parentField)

	cur := node
	for {
		parent, err := cur.Parent(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNodeNotFound) {
				return nil
			}
			return err
		}
		t, err := c.storedType(ctx, parent)
		if err != nil {
			return err
		}
		if t != nil {
			sub := c.m.newOpCtx(c.sess, opConfig{filter: NewDepthFilter(0), callback: c.callback})
			mapped, err := sub.readEntity(ctx, parent, reflect.PointerTo(t))
			if err != nil {
				return err
			}
			if mapped.Type().AssignableTo(f.Type()) {
				f.Set(mapped)
			}
			return nil
		}
		cur = parent
	}
}

// storedType resolves a node's type from its discriminator alone,
// returning nil when the node carries none or names an unregistered type.
func (c *opCtx) storedType(ctx context.Context, node store.Node) (reflect.Type, error) {
	has, err := node.HasProperty(ctx, DefaultDiscriminator)
	if err != nil || !has {
		return nil, err
	}
	p, err := node.Property(ctx, DefaultDiscriminator)
	if err != nil {
		return nil, err
	}
	if t, ok := c.m.typeByName(p.Value().Str); ok {
		return t, nil
	}
	return nil, nil
}
