package etcdstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/arbormap/arbor/store"
)

// node is a handle on one stored document. Path, identifier and type are
// captured when the handle is created; properties and children are read
// from the cluster on every call.
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
	doc, err := n.s.load(ctx, n.path)
	if err != nil {
		return false, err
	}
	_, ok := doc.Props[name]
	return ok, nil
}

func (n *node) Property(ctx context.Context, name string) (*store.Property, error) {
	if err := n.s.check(); err != nil {
		return nil, err
	}
	doc, err := n.s.load(ctx, n.path)
	if err != nil {
		return nil, err
	}
	pd, ok := doc.Props[name]
	if !ok {
		return nil, store.ErrPropertyNotFound
	}
	return decodeProp(name, pd)
}

func (n *node) Properties(ctx context.Context) ([]*store.Property, error) {
	if err := n.s.check(); err != nil {
		return nil, err
	}
	doc, err := n.s.load(ctx, n.path)
	if err != nil {
		return nil, err
	}
	props := make([]*store.Property, 0, len(doc.Props))
	for name, pd := range doc.Props {
		p, err := decodeProp(name, pd)
		if err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	return props, nil
}

func (n *node) setProperty(ctx context.Context, name string, multiple bool, values []store.Value) error {
	if err := n.s.check(); err != nil {
		return err
	}
	return n.s.mutate(ctx, n.path, func(doc *nodeDoc) error {
		if existing, ok := doc.Props[name]; ok && existing.Multiple != multiple {
			return fmt.Errorf("etcdstore: property %s: %w", name, store.ErrPropertyMultiplicity)
		}
		if doc.Props == nil {
			doc.Props = make(map[string]propDoc)
		}
		doc.Props[name] = encodeProp(multiple, values)
		return nil
	})
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
	return n.s.mutate(ctx, n.path, func(doc *nodeDoc) error {
		delete(doc.Props, name)
		return nil
	})
}

func (n *node) HasChild(ctx context.Context, name string) (bool, error) {
	if err := n.s.check(); err != nil {
		return false, err
	}
	doc, err := n.s.load(ctx, n.path)
	if err != nil {
		return false, err
	}
	return containsName(doc.Children, name), nil
}

func (n *node) Child(ctx context.Context, name string) (store.Node, error) {
	return n.s.Node(ctx, store.Join(n.path, name))
}

func (n *node) Children(ctx context.Context) ([]store.Node, error) {
	if err := n.s.check(); err != nil {
		return nil, err
	}
	doc, err := n.s.load(ctx, n.path)
	if err != nil {
		return nil, err
	}
	children := make([]store.Node, 0, len(doc.Children))
	for _, name := range doc.Children {
		c, err := n.s.Node(ctx, store.Join(n.path, name))
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return children, nil
}

func (n *node) AddChild(ctx context.Context, name, primaryType string) (store.Node, error) {
	if err := n.s.check(); err != nil {
		return nil, err
	}
	if primaryType == "" {
		primaryType = store.TypeUnstructured
	}
	childPath := store.Join(n.path, name)
	if has, err := n.s.HasNode(ctx, childPath); err != nil {
		return nil, err
	} else if has {
		return nil, fmt.Errorf("etcdstore: %s: %w", childPath, store.ErrNodeExists)
	}

	doc := &nodeDoc{
		ID:   uuid.NewString(),
		Type: primaryType,
		Props: map[string]propDoc{
			store.PropCreated: encodeProp(false, []store.Value{store.DateValue(time.Now().UTC())}),
		},
	}
	if err := n.s.put(ctx, childPath, doc); err != nil {
		return nil, err
	}
	if _, err := n.s.st.client.Put(ctx, n.s.st.idKey(doc.ID), childPath); err != nil {
		return nil, fmt.Errorf("etcdstore: failed to index %s: %w", childPath, err)
	}
	if err := n.s.mutate(ctx, n.path, func(parent *nodeDoc) error {
		parent.Children = append(parent.Children, name)
		return nil
	}); err != nil {
		return nil, err
	}
	return &node{s: n.s, path: childPath, id: doc.ID, primaryType: primaryType}, nil
}

func (n *node) Remove(ctx context.Context) error {
	if err := n.s.check(); err != nil {
		return err
	}
	if store.IsRoot(n.path) {
		return fmt.Errorf("etcdstore: cannot remove the root node")
	}

	rootKey := n.s.st.nodeKey(n.path)
	resp, err := n.s.st.client.Get(ctx, rootKey, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("etcdstore: failed to read subtree %s: %w", n.path, err)
	}
	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		if !inSubtree(rootKey, key) {
			continue
		}
		doc, err := unmarshalDoc(pathFromKey(n.s.st.ns, key), kv.Value)
		if err != nil {
			return err
		}
		if _, err := n.s.st.client.Delete(ctx, n.s.st.idKey(doc.ID)); err != nil {
			return fmt.Errorf("etcdstore: failed to drop index for %s: %w", key, err)
		}
		if _, err := n.s.st.client.Delete(ctx, key); err != nil {
			return fmt.Errorf("etcdstore: failed to delete %s: %w", key, err)
		}
	}

	return n.s.mutate(ctx, store.ParentPath(n.path), func(parent *nodeDoc) error {
		parent.Children = removeName(parent.Children, store.BaseName(n.path))
		return nil
	})
}

func (n *node) Mixins(ctx context.Context) ([]string, error) {
	if err := n.s.check(); err != nil {
		return nil, err
	}
	doc, err := n.s.load(ctx, n.path)
	if err != nil {
		return nil, err
	}
	return doc.Mixins, nil
}

func (n *node) HasMixin(ctx context.Context, name string) (bool, error) {
	mixins, err := n.Mixins(ctx)
	if err != nil {
		return false, err
	}
	return containsName(mixins, name), nil
}

// CanAddMixin accepts the mix: namespace except versionable, which needs a
// version storage facility this backend does not have.
func (n *node) CanAddMixin(ctx context.Context, name string) (bool, error) {
	if err := n.s.check(); err != nil {
		return false, err
	}
	return strings.HasPrefix(name, "mix:") && name != store.MixinVersionable, nil
}

func (n *node) AddMixin(ctx context.Context, name string) error {
	if err := n.s.check(); err != nil {
		return err
	}
	return n.s.mutate(ctx, n.path, func(doc *nodeDoc) error {
		if containsName(doc.Mixins, name) {
			return nil
		}
		doc.Mixins = append(doc.Mixins, name)
		return nil
	})
}
