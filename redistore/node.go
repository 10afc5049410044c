package redistore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arbormap/arbor/store"
)

// node is a handle onto one stored node. Path, identifier and type are
// snapshot data from when the handle was obtained.
type node struct {
	s           *session
	path        string
	id          string
	primaryType string
}

func (n *node) Path() string        { return n.path }
func (n *node) Name() string        { return store.BaseName(n.path) }
func (n *node) Identifier() string  { return n.id }
func (n *node) PrimaryType() string { return n.primaryType }

func (n *node) key() string         { return n.s.st.nodeKey(n.path) }
func (n *node) childrenKey() string { return n.s.st.childrenKey(n.path) }

func (n *node) Parent(ctx context.Context) (store.Node, error) {
	if store.IsRoot(n.path) {
		return nil, store.ErrNodeNotFound
	}
	return n.s.Node(ctx, store.ParentPath(n.path))
}

func (n *node) HasProperty(ctx context.Context, name string) (bool, error) {
	if err := n.s.check(); err != nil {
		return false, err
	}
	if strings.HasPrefix(name, "__") {
		return false, nil
	}
	ok, err := n.s.st.client.HExists(ctx, n.key(), name).Result()
	if err != nil {
		return false, fmt.Errorf("redistore: %w", err)
	}
	return ok, nil
}

func (n *node) Property(ctx context.Context, name string) (*store.Property, error) {
	if err := n.s.check(); err != nil {
		return nil, err
	}
	payload, err := n.s.st.client.HGet(ctx, n.key(), name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrPropertyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redistore: %w", err)
	}
	return decodeProperty(name, payload)
}

func (n *node) Properties(ctx context.Context) ([]*store.Property, error) {
	if err := n.s.check(); err != nil {
		return nil, err
	}
	fields, err := n.s.st.client.HGetAll(ctx, n.key()).Result()
	if err != nil {
		return nil, fmt.Errorf("redistore: %w", err)
	}
	out := make([]*store.Property, 0, len(fields))
	for name, payload := range fields {
		if strings.HasPrefix(name, "__") {
			continue
		}
		p, err := decodeProperty(name, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (n *node) setProperty(ctx context.Context, name string, multiple bool, values []store.Value) error {
	if err := n.s.check(); err != nil {
		return err
	}
	if strings.HasPrefix(name, "__") {
		return fmt.Errorf("redistore: reserved property name %q", name)
	}
	existing, err := n.Property(ctx, name)
	if err != nil && !errors.Is(err, store.ErrPropertyNotFound) {
		return err
	}
	if existing != nil && existing.Multiple != multiple {
		return store.ErrPropertyMultiplicity
	}
	payload, err := encodeProperty(multiple, values)
	if err != nil {
		return err
	}
	if err := n.s.st.client.HSet(ctx, n.key(), name, payload).Err(); err != nil {
		return fmt.Errorf("redistore: %w", err)
	}
	return nil
}

func (n *node) SetProperty(ctx context.Context, name string, v store.Value) error {
	return n.setProperty(ctx, name, false, []store.Value{v})
}

func (n *node) SetPropertyValues(ctx context.Context, name string, vs []store.Value) error {
	return n.setProperty(ctx, name, true, vs)
}

func (n *node) RemoveProperty(ctx context.Context, name string) error {
	if err := n.s.check(); err != nil {
		return err
	}
	if err := n.s.st.client.HDel(ctx, n.key(), name).Err(); err != nil {
		return fmt.Errorf("redistore: %w", err)
	}
	return nil
}

func (n *node) HasChild(ctx context.Context, name string) (bool, error) {
	return n.s.HasNode(ctx, store.Join(n.path, name))
}

func (n *node) Child(ctx context.Context, name string) (store.Node, error) {
	return n.s.Node(ctx, store.Join(n.path, name))
}

func (n *node) Children(ctx context.Context) ([]store.Node, error) {
	if err := n.s.check(); err != nil {
		return nil, err
	}
	names, err := n.s.st.client.LRange(ctx, n.childrenKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redistore: %w", err)
	}
	out := make([]store.Node, 0, len(names))
	for _, name := range names {
		child, err := n.s.Node(ctx, store.Join(n.path, name))
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

func (n *node) AddChild(ctx context.Context, name, primaryType string) (store.Node, error) {
	if err := n.s.check(); err != nil {
		return nil, err
	}
	if primaryType == "" {
		primaryType = store.TypeUnstructured
	}
	path := store.Join(n.path, name)
	has, err := n.s.HasNode(ctx, path)
	if err != nil {
		return nil, err
	}
	if has {
		return nil, store.ErrNodeExists
	}

	id := uuid.NewString()
	created, err := encodeProperty(false, []store.Value{store.DateValue(n.s.st.clock())})
	if err != nil {
		return nil, err
	}
	client := n.s.st.client
	if err := client.HSet(ctx, n.s.st.nodeKey(path),
		metaID, id,
		metaType, primaryType,
		store.PropCreated, created).Err(); err != nil {
		return nil, fmt.Errorf("redistore: %w", err)
	}
	if err := client.Set(ctx, n.s.st.idKey(id), path, 0).Err(); err != nil {
		return nil, fmt.Errorf("redistore: %w", err)
	}
	if err := client.RPush(ctx, n.childrenKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("redistore: %w", err)
	}
	return &node{s: n.s, path: path, id: id, primaryType: primaryType}, nil
}

func (n *node) Remove(ctx context.Context) error {
	if err := n.s.check(); err != nil {
		return err
	}
	if store.IsRoot(n.path) {
		return fmt.Errorf("redistore: cannot remove the root")
	}
	if err := n.removeSubtree(ctx, n.path); err != nil {
		return err
	}
	parent := store.ParentPath(n.path)
	if err := n.s.st.client.LRem(ctx, n.s.st.childrenKey(parent), 1, n.Name()).Err(); err != nil {
		return fmt.Errorf("redistore: %w", err)
	}
	return nil
}

func (n *node) removeSubtree(ctx context.Context, path string) error {
	client := n.s.st.client
	names, err := client.LRange(ctx, n.s.st.childrenKey(path), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redistore: %w", err)
	}
	for _, name := range names {
		if err := n.removeSubtree(ctx, store.Join(path, name)); err != nil {
			return err
		}
	}
	id, err := client.HGet(ctx, n.s.st.nodeKey(path), metaID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redistore: %w", err)
	}
	if id != "" {
		if err := client.Del(ctx, n.s.st.idKey(id)).Err(); err != nil {
			return fmt.Errorf("redistore: %w", err)
		}
	}
	if err := client.Del(ctx, n.s.st.nodeKey(path), n.s.st.childrenKey(path)).Err(); err != nil {
		return fmt.Errorf("redistore: %w", err)
	}
	return nil
}

func (n *node) Mixins(ctx context.Context) ([]string, error) {
	if err := n.s.check(); err != nil {
		return nil, err
	}
	raw, err := n.s.st.client.HGet(ctx, n.key(), metaMixins).Result()
	if errors.Is(err, redis.Nil) || raw == "" {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redistore: %w", err)
	}
	return strings.Split(raw, ","), nil
}

func (n *node) HasMixin(ctx context.Context, name string) (bool, error) {
	mixins, err := n.Mixins(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range mixins {
		if m == name {
			return true, nil
		}
	}
	return false, nil
}

// CanAddMixin accepts anything in the mixin namespace except
// MixinVersionable, which needs a versioning facility this backend does
// not have.
func (n *node) CanAddMixin(ctx context.Context, name string) (bool, error) {
	if err := n.s.check(); err != nil {
		return false, err
	}
	return strings.HasPrefix(name, "mix:") && name != store.MixinVersionable, nil
}

func (n *node) AddMixin(ctx context.Context, name string) error {
	mixins, err := n.Mixins(ctx)
	if err != nil {
		return err
	}
	for _, m := range mixins {
		if m == name {
			return nil
		}
	}
	mixins = append(mixins, name)
	if err := n.s.st.client.HSet(ctx, n.key(), metaMixins, strings.Join(mixins, ",")).Err(); err != nil {
		return fmt.Errorf("redistore: %w", err)
	}
	return nil
}
