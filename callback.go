package arbor

import (
	"context"

	"github.com/arbormap/arbor/store"
)

// Callback is the customization seam for node-creation mechanics during add
// and update operations. Embed DefaultCallback and override selectively;
// pass the callback per operation with WithCallback.
//
// Example:
//
//	type auditCallback struct {
//		arbor.DefaultCallback
//	}
//
//	func (auditCallback) Complete(ctx context.Context, node store.Node, entity any) error {
//		return node.SetProperty(ctx, "auditedBy", store.StringValue("importer"))
//	}
//
//	mapper.Add(ctx, sess, parent, entity, arbor.WithCallback(auditCallback{}))
type Callback interface {
	// CreateNode creates the node an entity is about to be mapped onto.
	// primaryType is the registered node type of the entity's type, or
	// store.TypeUnstructured.
	CreateNode(ctx context.Context, parent store.Node, name, primaryType string, entity any) (store.Node, error)

	// ApplyMixins applies mixin tags to a freshly created node. mixins
	// already merges the per-operation and per-type registrations.
	ApplyMixins(ctx context.Context, node store.Node, mixins []string, entity any) error

	// StampDiscriminator writes the class-discriminator property.
	StampDiscriminator(ctx context.Context, node store.Node, property, typeName string, entity any) error

	// MoveNode relocates node under parent with a new name after a
	// name-change was detected during update.
	MoveNode(ctx context.Context, sess store.Session, parent, node store.Node, name string, entity any) error

	// Complete runs after the whole subtree of an add or update has been
	// written.
	Complete(ctx context.Context, node store.Node, entity any) error
}

// DefaultCallback is the standard Callback implementation; every operation
// without an explicit callback uses it.
type DefaultCallback struct{}

// CreateNode adds a child node of the given primary type.
func (DefaultCallback) CreateNode(ctx context.Context, parent store.Node, name, primaryType string, entity any) (store.Node, error) {
	return parent.AddChild(ctx, name, primaryType)
}

// ApplyMixins applies each mixin the node accepts.
func (DefaultCallback) ApplyMixins(ctx context.Context, node store.Node, mixins []string, entity any) error {
	for _, mixin := range mixins {
		ok, err := node.CanAddMixin(ctx, mixin)
		if err != nil {
			return err
		}
		if ok {
			if err := node.AddMixin(ctx, mixin); err != nil {
				return err
			}
		}
	}
	return nil
}

// StampDiscriminator writes the type name as a string property.
func (DefaultCallback) StampDiscriminator(ctx context.Context, node store.Node, property, typeName string, entity any) error {
	return node.SetProperty(ctx, property, store.StringValue(typeName))
}

// MoveNode moves the node via the session.
func (DefaultCallback) MoveNode(ctx context.Context, sess store.Session, parent, node store.Node, name string, entity any) error {
	return sess.Move(ctx, node.Path(), store.Join(parent.Path(), name))
}

// Complete does nothing.
func (DefaultCallback) Complete(ctx context.Context, node store.Node, entity any) error {
	return nil
}
