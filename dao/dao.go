// Package dao provides a generic data-access layer over a mapper and a
// session: typed CRUD for one entity type rooted at a fixed parent path,
// plus version access where the backend supports it.
package dao

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arbormap/arbor"
	"github.com/arbormap/arbor/store"
)

// DAO is a typed data-access object for entities of type T, a registered
// struct pointer type. All entities managed by a DAO live directly under its
// root path. A DAO is as safe for concurrent use as its session, which
// usually means not at all.
type DAO[T any] struct {
	mapper *arbor.Mapper
	sess   store.Session
	root   string
	opts   []arbor.OpOption
	logger *slog.Logger
}

// Option configures a DAO at construction time.
type Option func(*daoConfig)

type daoConfig struct {
	filter *arbor.NodeFilter
	logger *slog.Logger
}

// WithFilter bounds every read performed by the DAO.
func WithFilter(filter *arbor.NodeFilter) Option {
	return func(c *daoConfig) {
		c.filter = filter
	}
}

// WithLogger sets the logger for debug output. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *daoConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a DAO for T rooted at rootPath. T must already be registered
// with the mapper.
func New[T any](m *arbor.Mapper, sess store.Session, rootPath string, opts ...Option) (*DAO[T], error) {
	var zero T
	if !m.IsMapped(zero) {
		return nil, fmt.Errorf("dao: %T is not registered: %w", zero, arbor.ErrNotRegistered)
	}
	if rootPath == "" {
		rootPath = store.RootPath
	}

	cfg := daoConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &DAO[T]{mapper: m, sess: sess, root: rootPath, logger: cfg.logger}
	if cfg.filter != nil {
		d.opts = append(d.opts, arbor.WithFilter(cfg.filter))
	}
	return d, nil
}

// Create writes the entity as a new child of the DAO root and returns it
// with its id and path fields filled in.
func (d *DAO[T]) Create(ctx context.Context, entity T) (T, error) {
	return d.CreateUnder(ctx, d.root, entity)
}

// CreateUnder writes the entity as a new child of the given parent path.
// The parent must live at or below the DAO root.
func (d *DAO[T]) CreateUnder(ctx context.Context, parentPath string, entity T) (T, error) {
	var zero T
	parent, err := d.sess.Node(ctx, parentPath)
	if err != nil {
		return zero, fmt.Errorf("dao: failed to resolve parent %s: %w", parentPath, err)
	}
	node, err := d.mapper.Add(ctx, d.sess, parent, entity)
	if err != nil {
		return zero, err
	}
	if err := d.sess.Save(ctx); err != nil {
		return zero, fmt.Errorf("dao: failed to save: %w", err)
	}
	d.logger.DebugContext(ctx, "created entity", "path", node.Path(), "type", fmt.Sprintf("%T", entity))
	return entity, nil
}

// Get loads the entity at the given path.
func (d *DAO[T]) Get(ctx context.Context, path string) (T, error) {
	var zero T
	node, err := d.sess.Node(ctx, path)
	if err != nil {
		return zero, fmt.Errorf("dao: failed to resolve %s: %w", path, err)
	}
	return arbor.Load[T](ctx, d.mapper, d.sess, node, d.opts...)
}

// GetByID loads the entity whose node carries the given identifier.
func (d *DAO[T]) GetByID(ctx context.Context, id string) (T, error) {
	var zero T
	node, err := d.sess.NodeByIdentifier(ctx, id)
	if err != nil {
		return zero, fmt.Errorf("dao: failed to resolve identifier %s: %w", id, err)
	}
	return arbor.Load[T](ctx, d.mapper, d.sess, node, d.opts...)
}

// Update synchronizes the entity's backing node with its current state. A
// checked-in versionable node is checked out first.
func (d *DAO[T]) Update(ctx context.Context, entity T) (T, error) {
	var zero T
	path, err := d.mapper.EntityPath(entity)
	if err != nil {
		return zero, err
	}
	if err := d.checkoutIfNeeded(ctx, path); err != nil {
		return zero, err
	}
	node, err := d.mapper.Update(ctx, d.sess, entity)
	if err != nil {
		return zero, err
	}
	if err := d.sess.Save(ctx); err != nil {
		return zero, fmt.Errorf("dao: failed to save: %w", err)
	}
	d.logger.DebugContext(ctx, "updated entity", "path", node.Path())
	return entity, nil
}

// UpdateByID synchronizes the node with the given identifier from the
// entity's current state.
func (d *DAO[T]) UpdateByID(ctx context.Context, id string, entity T) (T, error) {
	var zero T
	node, err := d.sess.NodeByIdentifier(ctx, id)
	if err != nil {
		return zero, fmt.Errorf("dao: failed to resolve identifier %s: %w", id, err)
	}
	if err := d.checkoutIfNeeded(ctx, node.Path()); err != nil {
		return zero, err
	}
	if _, err := d.mapper.UpdateNode(ctx, d.sess, node, entity); err != nil {
		return zero, err
	}
	if err := d.sess.Save(ctx); err != nil {
		return zero, fmt.Errorf("dao: failed to save: %w", err)
	}
	return entity, nil
}

// Remove deletes the node at the given path and its whole subtree.
func (d *DAO[T]) Remove(ctx context.Context, path string) error {
	node, err := d.sess.Node(ctx, path)
	if err != nil {
		return fmt.Errorf("dao: failed to resolve %s: %w", path, err)
	}
	if err := node.Remove(ctx); err != nil {
		return fmt.Errorf("dao: failed to remove %s: %w", path, err)
	}
	if err := d.sess.Save(ctx); err != nil {
		return fmt.Errorf("dao: failed to save: %w", err)
	}
	d.logger.DebugContext(ctx, "removed entity", "path", path)
	return nil
}

// RemoveByID deletes the node with the given identifier and its subtree.
func (d *DAO[T]) RemoveByID(ctx context.Context, id string) error {
	node, err := d.sess.NodeByIdentifier(ctx, id)
	if err != nil {
		return fmt.Errorf("dao: failed to resolve identifier %s: %w", id, err)
	}
	return d.Remove(ctx, node.Path())
}

// Exists reports whether a node exists at the given path.
func (d *DAO[T]) Exists(ctx context.Context, path string) (bool, error) {
	return d.sess.HasNode(ctx, path)
}

// List loads every child of the DAO root as a T, in child order.
func (d *DAO[T]) List(ctx context.Context) ([]T, error) {
	root, err := d.sess.Node(ctx, d.root)
	if err != nil {
		return nil, fmt.Errorf("dao: failed to resolve root %s: %w", d.root, err)
	}
	children, err := root.Children(ctx)
	if err != nil {
		return nil, fmt.Errorf("dao: failed to list %s: %w", d.root, err)
	}
	out := make([]T, 0, len(children))
	for _, child := range children {
		if store.IsReservedName(child.Name()) {
			continue
		}
		entity, err := arbor.Load[T](ctx, d.mapper, d.sess, child, d.opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// Move relocates the entity under a new parent path, keeping its name, and
// returns it with its path field updated.
func (d *DAO[T]) Move(ctx context.Context, entity T, newParentPath string) (T, error) {
	var zero T
	src, err := d.mapper.EntityPath(entity)
	if err != nil {
		return zero, err
	}
	if src == "" {
		return zero, fmt.Errorf("dao: entity %T has no path; was it created?", entity)
	}
	dest := store.Join(newParentPath, store.BaseName(src))
	if err := d.sess.Move(ctx, src, dest); err != nil {
		return zero, fmt.Errorf("dao: failed to move %s to %s: %w", src, dest, err)
	}
	if err := d.sess.Save(ctx); err != nil {
		return zero, fmt.Errorf("dao: failed to save: %w", err)
	}
	d.logger.DebugContext(ctx, "moved entity", "from", src, "to", dest)
	return d.Get(ctx, dest)
}

// Checkin freezes the current state of the node at path as a new version.
func (d *DAO[T]) Checkin(ctx context.Context, path string) (*store.Version, error) {
	vm, err := d.sess.VersionManager()
	if err != nil {
		return nil, err
	}
	v, err := vm.Checkin(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := d.sess.Save(ctx); err != nil {
		return nil, fmt.Errorf("dao: failed to save: %w", err)
	}
	return v, nil
}

// Checkout makes a checked-in node at path writable again.
func (d *DAO[T]) Checkout(ctx context.Context, path string) error {
	vm, err := d.sess.VersionManager()
	if err != nil {
		return err
	}
	return vm.Checkout(ctx, path)
}

// Versions returns all versions of the node at path, oldest first.
func (d *DAO[T]) Versions(ctx context.Context, path string) ([]*store.Version, error) {
	vm, err := d.sess.VersionManager()
	if err != nil {
		return nil, err
	}
	return vm.Versions(ctx, path)
}

// GetVersion loads the frozen state of the named version as a T.
func (d *DAO[T]) GetVersion(ctx context.Context, path, versionName string) (T, error) {
	var zero T
	node, err := d.sess.Node(ctx, path)
	if err != nil {
		return zero, fmt.Errorf("dao: failed to resolve %s: %w", path, err)
	}
	frozen, err := d.sess.Node(ctx, frozenPath(node.Identifier(), versionName))
	if err != nil {
		return zero, fmt.Errorf("dao: failed to resolve version %s of %s: %w", versionName, path, err)
	}
	return arbor.Load[T](ctx, d.mapper, d.sess, frozen, d.opts...)
}

// Restore replaces the node's current state with the named version's frozen
// state and reloads the entity. The node is left checked in.
func (d *DAO[T]) Restore(ctx context.Context, path, versionName string) (T, error) {
	var zero T
	vm, err := d.sess.VersionManager()
	if err != nil {
		return zero, err
	}
	if err := vm.Restore(ctx, path, versionName); err != nil {
		return zero, err
	}
	if err := d.sess.Save(ctx); err != nil {
		return zero, fmt.Errorf("dao: failed to save: %w", err)
	}
	return d.Get(ctx, path)
}

// checkoutIfNeeded checks out a checked-in versionable node. Backends
// without versioning always count as checked out.
func (d *DAO[T]) checkoutIfNeeded(ctx context.Context, path string) error {
	vm, err := d.sess.VersionManager()
	if errors.Is(err, store.ErrVersioningUnsupported) {
		return nil
	}
	if err != nil {
		return err
	}
	out, err := vm.IsCheckedOut(ctx, path)
	if err != nil {
		return err
	}
	if out {
		return nil
	}
	return vm.Checkout(ctx, path)
}

// frozenPath builds the path of a version's frozen state inside the version
// storage tree.
func frozenPath(id, versionName string) string {
	histories := store.Join(store.RootPath, store.VersionStorageName)
	return store.Join(store.Join(store.Join(histories, id), versionName), store.FrozenNodeName)
}
