package arbor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/arbormap/arbor/store"
)

// readProperty maps one stored property (or property-map container) onto a
// struct field. Absent properties leave the field at its zero value.
func (c *opCtx) readProperty(ctx context.Context, obj reflect.Value, d *typeDesc, fd *fieldDesc, node store.Node, depth int) error {
	if !c.filter.IsNameIncluded(fd.name) {
		return nil
	}
	f := d.field(obj, fd)

	if fd.container == containerMap || fd.container == containerMapOfSlice {
		return c.readPropertyMap(ctx, f, fd, node)
	}

	has, err := node.HasProperty(ctx, fd.name)
	if err != nil || !has {
		return err
	}
	p, err := node.Property(ctx, fd.name)
	if err != nil {
		return err
	}

	if fd.converter != "" {
		return c.readConverted(f, fd, p)
	}

	switch fd.container {
	case containerSlice:
		out := reflect.MakeSlice(f.Type(), 0, len(p.Values))
		for _, v := range p.Values {
			ev, err := fromValue(fd.elem, v)
			if err != nil {
				return err
			}
			out = reflect.Append(out, ev)
		}
		f.Set(out)
	default:
		ev, err := fromValue(fd.elem, p.Value())
		if err != nil {
			return err
		}
		if fd.scalarPtr {
			ptr := reflect.New(fd.elem)
			ptr.Elem().Set(ev)
			f.Set(ptr)
		} else {
			f.Set(ev)
		}
	}
	return nil
}

func (c *opCtx) readConverted(f reflect.Value, fd *fieldDesc, p *store.Property) error {
	conv, err := c.m.converter(fd.converter)
	if err != nil {
		return err
	}
	assign := func(dst reflect.Value, v store.Value) error {
		out, err := conv.FromProperty(naturalValue(v))
		if err != nil {
			return fmt.Errorf("converter %s: %w", fd.converter, err)
		}
		ov := reflect.ValueOf(out)
		if !ov.IsValid() || !ov.Type().AssignableTo(dst.Type()) {
			return fmt.Errorf("converter %s produced %T for %s field: %w", fd.converter, out, dst.Type(), ErrUnsupportedType)
		}
		dst.Set(ov)
		return nil
	}
	if fd.container == containerSlice {
		out := reflect.MakeSlice(f.Type(), len(p.Values), len(p.Values))
		for i, v := range p.Values {
			if err := assign(out.Index(i), v); err != nil {
				return err
			}
		}
		f.Set(out)
		return nil
	}
	return assign(f, p.Value())
}

// readPropertyMap fills a dynamic property map from the container child
// node holding one property per key. Reserved properties stay invisible.
func (c *opCtx) readPropertyMap(ctx context.Context, f reflect.Value, fd *fieldDesc, node store.Node) error {
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
	for _, p := range props {
		if store.IsReservedName(p.Name) {
			continue
		}
		var ev reflect.Value
		switch {
		case fd.container == containerMapOfSlice:
			sl := reflect.MakeSlice(f.Type().Elem(), 0, len(p.Values))
			for _, v := range p.Values {
				item, err := fromValue(fd.elem, v)
				if err != nil {
					return err
				}
				sl = reflect.Append(sl, item)
			}
			ev = sl
		case fd.elem == anyType && p.Multiple:
			items := make([]any, len(p.Values))
			for i, v := range p.Values {
				items[i] = naturalValue(v)
			}
			ev = reflect.ValueOf(items)
		default:
			ev, err = fromValue(fd.elem, p.Value())
			if err != nil {
				return err
			}
		}
		out.SetMapIndex(reflect.ValueOf(p.Name), ev)
	}
	f.Set(out)
	return nil
}

func (c *opCtx) readSerialized(ctx context.Context, obj reflect.Value, d *typeDesc, fd *fieldDesc, node store.Node) error {
	if !c.filter.IsNameIncluded(fd.name) {
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
	v, err := deserializeValue(fd.fieldType, p.Value().Data)
	if err != nil {
		return err
	}
	d.field(obj, fd).Set(v)
	return nil
}

// writeProperty stores one struct field as a property, removing the
// property when the field carries an explicit nil.
func (c *opCtx) writeProperty(ctx context.Context, obj reflect.Value, d *typeDesc, fd *fieldDesc, node store.Node) error {
	if fd.protected {
		return nil
	}
	f := d.field(obj, fd)

	if fd.container == containerMap || fd.container == containerMapOfSlice {
		return c.writePropertyMap(ctx, f, fd, node)
	}

	if fd.converter != "" {
		return c.writeConverted(ctx, f, fd, node)
	}

	switch fd.container {
	case containerSlice:
		if f.IsNil() || f.Len() == 0 {
			return removeNodeProperty(ctx, node, fd.name)
		}
		vs := make([]store.Value, f.Len())
		for i := range vs {
			v, err := toValue(f.Index(i))
			if err != nil {
				return err
			}
			vs[i] = v
		}
		return setNodePropertyValues(ctx, node, fd.name, vs)
	default:
		if fd.scalarPtr {
			if f.IsNil() {
				return removeNodeProperty(ctx, node, fd.name)
			}
			f = f.Elem()
		}
		v, err := toValue(f)
		if err != nil {
			return err
		}
		return setNodeProperty(ctx, node, fd.name, v)
	}
}

func (c *opCtx) writeConverted(ctx context.Context, f reflect.Value, fd *fieldDesc, node store.Node) error {
	conv, err := c.m.converter(fd.converter)
	if err != nil {
		return err
	}
	one := func(v reflect.Value) (store.Value, error) {
		out, err := conv.ToProperty(v.Interface())
		if err != nil {
			return store.Value{}, fmt.Errorf("converter %s: %w", fd.converter, err)
		}
		return toValue(reflect.ValueOf(out))
	}
	if fd.container == containerSlice {
		if f.IsNil() || f.Len() == 0 {
			return removeNodeProperty(ctx, node, fd.name)
		}
		vs := make([]store.Value, f.Len())
		for i := range vs {
			v, err := one(f.Index(i))
			if err != nil {
				return err
			}
			vs[i] = v
		}
		return setNodePropertyValues(ctx, node, fd.name, vs)
	}
	v, err := one(f)
	if err != nil {
		return err
	}
	return setNodeProperty(ctx, node, fd.name, v)
}

// writePropertyMap replaces the container child node holding a dynamic
// property map. A nil map removes the container.
func (c *opCtx) writePropertyMap(ctx context.Context, f reflect.Value, fd *fieldDesc, node store.Node) error {
	name := c.m.cleanName(fd.name)
	has, err := node.HasChild(ctx, name)
	if err != nil {
		return err
	}
	if has {
		old, err := node.Child(ctx, name)
		if err != nil {
			return err
		}
		if err := old.Remove(ctx); err != nil {
			return err
		}
	}
	if f.IsNil() {
		return nil
	}
	container, err := node.AddChild(ctx, name, store.TypeUnstructured)
	if err != nil {
		return err
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
			vs := make([]store.Value, mv.Len())
			for i := range vs {
				v, err := toValue(mv.Index(i))
				if err != nil {
					return err
				}
				vs[i] = v
			}
			if err := container.SetPropertyValues(ctx, key, vs); err != nil {
				return err
			}
			continue
		}
		v, err := toValue(mv)
		if err != nil {
			return err
		}
		if err := container.SetProperty(ctx, key, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *opCtx) writeSerialized(ctx context.Context, obj reflect.Value, d *typeDesc, fd *fieldDesc, node store.Node) error {
	f := d.field(obj, fd)
	switch f.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		if f.IsNil() {
			return removeNodeProperty(ctx, node, fd.name)
		}
	}
	data, err := serializeValue(f)
	if err != nil {
		return err
	}
	return setNodeProperty(ctx, node, fd.name, store.BinaryValue(data))
}

// setNodeProperty writes a single-valued property, clearing a previous
// multi-valued one so multiplicity changes land cleanly.
func setNodeProperty(ctx context.Context, node store.Node, name string, v store.Value) error {
	err := node.SetProperty(ctx, name, v)
	if errors.Is(err, store.ErrPropertyMultiplicity) {
		if err := node.RemoveProperty(ctx, name); err != nil {
			return err
		}
		return node.SetProperty(ctx, name, v)
	}
	return err
}

func setNodePropertyValues(ctx context.Context, node store.Node, name string, vs []store.Value) error {
	err := node.SetPropertyValues(ctx, name, vs)
	if errors.Is(err, store.ErrPropertyMultiplicity) {
		if err := node.RemoveProperty(ctx, name); err != nil {
			return err
		}
		return node.SetPropertyValues(ctx, name, vs)
	}
	return err
}

func removeNodeProperty(ctx context.Context, node store.Node, name string) error {
	err := node.RemoveProperty(ctx, name)
	if errors.Is(err, store.ErrPropertyNotFound) {
		return nil
	}
	return err
}
