package arbor

import (
	"context"
	"fmt"
	"reflect"

	"github.com/arbormap/arbor/store"
)

// addEntityNode persists obj as a new node under parent. When createNode is
// false the entity is written onto parent itself instead; file entities use
// that mode to reattach content to an existing file node.
//
// Node creation, mixin application and discriminator stamping all go through
// the operation's Callback so callers can interpose on structural writes. The
// entity's id, name and path fields are refreshed from the created node
// before any field is mapped, so self-referential graphs observe the final
// location.
func (c *opCtx) addEntityNode(ctx context.Context, parent store.Node, obj reflect.Value, d *typeDesc, extraMixins []string, createNode bool) (store.Node, error) {
	node := parent
	if createNode {
		raw := d.entityName(obj)
		if raw == "" {
			return nil, fmt.Errorf("type %s: %w", d.typ, ErrEmptyName)
		}
		name := c.m.cleanName(raw)
		created, err := c.callback.CreateNode(ctx, parent, name, d.nodeType(), obj.Interface())
		if err != nil {
			return nil, err
		}
		node = created
		if mixins := combineMixins(d.cfg.mixins, extraMixins); len(mixins) > 0 {
			if err := c.callback.ApplyMixins(ctx, node, mixins, obj.Interface()); err != nil {
				return nil, err
			}
		}
		d.setEntityID(obj, node.Identifier())
		d.setEntityName(obj, node.Name())
		d.setEntityPath(obj, node.Path())
	}

	if d.stampsDiscriminator() {
		if err := c.callback.StampDiscriminator(ctx, node, d.discriminatorProperty(), d.name, obj.Interface()); err != nil {
			return nil, err
		}
	}

	if d.isFile {
		if !createNode {
			d.setEntityID(obj, node.Identifier())
			d.setEntityName(obj, node.Name())
			d.setEntityPath(obj, node.Path())
		}
		fe, ok := obj.Interface().(FileEntity)
		if !ok {
			return nil, fmt.Errorf("type %s: %w", d.typ, ErrUnsupportedType)
		}
		if err := c.writeFileContent(ctx, node, fe.fileRecord()); err != nil {
			return nil, err
		}
	}

	if err := c.addFields(ctx, obj, d, node); err != nil {
		return nil, err
	}
	if err := c.callback.Complete(ctx, node, obj.Interface()); err != nil {
		return nil, err
	}
	return node, nil
}

// addFields writes every mapped field. Adds are never filtered; the filter
// applies to reads and updates only.
func (c *opCtx) addFields(ctx context.Context, obj reflect.Value, d *typeDesc, node store.Node) error {
	for _, fd := range d.fields {
		var err error
		switch fd.kind {
		case kindProperty:
			err = c.writeProperty(ctx, obj, d, fd, node)
		case kindSerialized:
			err = c.writeSerialized(ctx, obj, d, fd, node)
		case kindChild:
			err = c.writeChildren(ctx, obj, d, fd, node, 0)
		case kindReference:
			err = c.writeReferences(ctx, obj, d, fd, node)
		case kindFile:
			err = c.writeFiles(ctx, obj, d, fd, node, 0)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", fieldName(d.typ, fd), err)
		}
	}
	return nil
}

// updateEntityNode synchronizes node with the current state of obj. depth is
// the entity's distance from the update root and drives the filter gates, so
// a bounded update leaves deeper subtrees untouched.
func (c *opCtx) updateEntityNode(ctx context.Context, node store.Node, obj reflect.Value, d *typeDesc, depth int) (store.Node, error) {
	if d.stampsDiscriminator() {
		if err := c.reconcileStoredType(ctx, node, d); err != nil {
			return nil, err
		}
		if err := c.callback.StampDiscriminator(ctx, node, d.discriminatorProperty(), d.name, obj.Interface()); err != nil {
			return nil, err
		}
	}

	if d.isFile {
		fe, ok := obj.Interface().(FileEntity)
		if !ok {
			return nil, fmt.Errorf("type %s: %w", d.typ, ErrUnsupportedType)
		}
		if err := c.writeFileContent(ctx, node, fe.fileRecord()); err != nil {
			return nil, err
		}
	}

	if err := c.updateFields(ctx, obj, d, node, depth); err != nil {
		return nil, err
	}

	node, err := c.applyRename(ctx, node, obj, d)
	if err != nil {
		return nil, err
	}
	if err := c.callback.Complete(ctx, node, obj.Interface()); err != nil {
		return nil, err
	}
	return node, nil
}

// updateFields applies the filter-gated diff loop. Properties honor the
// property depth bound, children and files the node depth bound; references
// are cheap property writes and are gated by name only.
func (c *opCtx) updateFields(ctx context.Context, obj reflect.Value, d *typeDesc, node store.Node, depth int) error {
	for _, fd := range d.fields {
		var err error
		switch fd.kind {
		case kindProperty:
			if c.filter.IsPropertyDepthIncluded(depth) && c.filter.IsNameIncluded(fd.name) {
				err = c.writeProperty(ctx, obj, d, fd, node)
			}
		case kindSerialized:
			if c.filter.IsPropertyDepthIncluded(depth) && c.filter.IsNameIncluded(fd.name) {
				err = c.writeSerialized(ctx, obj, d, fd, node)
			}
		case kindChild:
			if c.filter.IsIncluded(fd.name, depth) {
				err = c.writeChildren(ctx, obj, d, fd, node, depth)
			}
		case kindReference:
			if c.filter.IsNameIncluded(fd.name) {
				err = c.writeReferences(ctx, obj, d, fd, node)
			}
		case kindFile:
			if c.filter.IsIncluded(fd.name, depth) {
				err = c.writeFiles(ctx, obj, d, fd, node, depth)
			}
		}
		if err != nil {
			return fmt.Errorf("%s: %w", fieldName(d.typ, fd), err)
		}
	}
	return nil
}

// reconcileStoredType handles a node whose stored discriminator names a
// different type than the entity being written. Properties that only the old
// type mapped are removed so they do not survive as stale data; child nodes
// are left in place. An old type name that resolves to nothing is ignored.
func (c *opCtx) reconcileStoredType(ctx context.Context, node store.Node, d *typeDesc) error {
	prop := d.discriminatorProperty()
	has, err := node.HasProperty(ctx, prop)
	if err != nil || !has {
		return err
	}
	p, err := node.Property(ctx, prop)
	if err != nil {
		return err
	}
	stored := p.Value().Str
	if stored == "" || stored == d.name {
		return nil
	}
	oldType, ok := c.m.lookupType(stored)
	if !ok {
		return nil
	}
	oldDesc, err := c.m.anyDescriptor(oldType)
	if err != nil {
		return nil
	}

	current := make(map[string]bool, len(d.fields))
	for _, fd := range d.fields {
		current[fd.name] = true
	}
	for _, fd := range oldDesc.fields {
		if current[fd.name] {
			continue
		}
		has, err := node.HasProperty(ctx, fd.name)
		if err != nil {
			return err
		}
		if !has {
			continue
		}
		if err := node.RemoveProperty(ctx, fd.name); err != nil {
			return err
		}
	}
	return nil
}

// applyRename moves the node when the entity's name field no longer matches
// the node name. Around the move, a versionable parent of a versionable node
// is checked out and checked back in so the move lands in a new version.
// The returned node is re-fetched from the new path; the entity's name and
// path fields are refreshed from it.
func (c *opCtx) applyRename(ctx context.Context, node store.Node, obj reflect.Value, d *typeDesc) (store.Node, error) {
	raw := d.entityName(obj)
	if raw == "" {
		return nil, fmt.Errorf("type %s: %w", d.typ, ErrEmptyName)
	}
	name := c.m.cleanName(raw)
	if name == node.Name() {
		return node, nil
	}
	if store.IsRoot(node.Path()) {
		return nil, fmt.Errorf("rename %q: cannot move the root node", name)
	}

	parent, err := node.Parent(ctx)
	if err != nil {
		return nil, err
	}
	versionable, err := node.HasMixin(ctx, store.MixinVersionable)
	if err != nil {
		return nil, err
	}
	parentVersionable := false
	if versionable {
		parentVersionable, err = parent.HasMixin(ctx, store.MixinVersionable)
		if err != nil {
			return nil, err
		}
	}

	var vm store.VersionManager
	if versionable && parentVersionable {
		vm, err = c.sess.VersionManager()
		if err != nil {
			return nil, err
		}
		if err := vm.Checkout(ctx, parent.Path()); err != nil {
			return nil, err
		}
	}

	if err := c.callback.MoveNode(ctx, c.sess, parent, node, name, obj.Interface()); err != nil {
		return nil, err
	}

	if vm != nil {
		checkedOut, err := vm.IsCheckedOut(ctx, parent.Path())
		if err != nil {
			return nil, err
		}
		if checkedOut {
			if err := c.sess.Save(ctx); err != nil {
				return nil, err
			}
			if _, err := vm.Checkin(ctx, parent.Path()); err != nil {
				return nil, err
			}
		}
	}

	moved, err := c.sess.Node(ctx, store.Join(parent.Path(), name))
	if err != nil {
		return nil, err
	}
	d.setEntityName(obj, moved.Name())
	d.setEntityPath(obj, moved.Path())
	return moved, nil
}

func combineMixins(typeMixins, extra []string) []string {
	if len(typeMixins) == 0 && len(extra) == 0 {
		return nil
	}
	out := make([]string, 0, len(typeMixins)+len(extra))
	out = append(out, typeMixins...)
	for _, m := range extra {
		if !containsString(out, m) {
			out = append(out, m)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
