package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/arbormap/arbor/store"
)

// node is the in-memory representation of one tree node. Nodes form a
// doubly linked tree; children keep insertion order.
type node struct {
	id          string
	name        string
	primaryType string
	parent      *node
	props       []*prop
	children    []*node
	mixins      []string
	created     time.Time

	// checkedOut is meaningful only on nodes carrying MixinVersionable.
	checkedOut bool
}

type prop struct {
	name     string
	multiple bool
	values   []store.Value
}

func newNode(name, primaryType string, now time.Time) *node {
	if primaryType == "" {
		primaryType = store.TypeUnstructured
	}
	n := &node{
		id:          uuid.NewString(),
		name:        name,
		primaryType: primaryType,
		created:     now,
		checkedOut:  true,
	}
	n.setProp(store.PropCreated, false, []store.Value{store.DateValue(now)})
	return n
}

func (n *node) path() string {
	if n.parent == nil {
		return store.RootPath
	}
	return store.Join(n.parent.path(), n.name)
}

func (n *node) findProp(name string) *prop {
	for _, p := range n.props {
		if p.name == name {
			return p
		}
	}
	return nil
}

func (n *node) setProp(name string, multiple bool, values []store.Value) {
	if p := n.findProp(name); p != nil {
		p.multiple = multiple
		p.values = values
		return
	}
	n.props = append(n.props, &prop{name: name, multiple: multiple, values: values})
}

func (n *node) removeProp(name string) bool {
	for i, p := range n.props {
		if p.name == name {
			n.props = append(n.props[:i], n.props[i+1:]...)
			return true
		}
	}
	return false
}

func (n *node) findChild(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *node) hasMixin(name string) bool {
	for _, m := range n.mixins {
		if m == name {
			return true
		}
	}
	return false
}

// checkedIn reports whether mutations are currently barred by versioning.
func (n *node) checkedIn() bool {
	return n.hasMixin(store.MixinVersionable) && !n.checkedOut
}

// clone deep-copies the subtree, preserving identifiers. freeze hooks into
// the copy to substitute versionable children with history stand-ins.
func (n *node) clone(parent *node) *node {
	out := &node{
		id:          n.id,
		name:        n.name,
		primaryType: n.primaryType,
		parent:      parent,
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
	out.children = make([]*node, len(n.children))
	for i, c := range n.children {
		out.children[i] = c.clone(out)
	}
	return out
}

// handle adapts a *node to store.Node for one session. Path, name,
// identifier and type are captured when the handle is created; a handle
// held across a move keeps reporting the old location until re-fetched.
type handle struct {
	s    *session
	n    *node
	path string
}

func (s *session) handleFor(n *node) *handle {
	return &handle{s: s, n: n, path: n.path()}
}

func (h *handle) Path() string        { return h.path }
func (h *handle) Name() string        { return h.n.name }
func (h *handle) Identifier() string  { return h.n.id }
func (h *handle) PrimaryType() string { return h.n.primaryType }

func (h *handle) Parent(ctx context.Context) (store.Node, error) {
	if err := h.s.check(); err != nil {
		return nil, err
	}
	if h.n.parent == nil {
		return nil, store.ErrNodeNotFound
	}
	return h.s.handleFor(h.n.parent), nil
}

func (h *handle) HasProperty(ctx context.Context, name string) (bool, error) {
	if err := h.s.check(); err != nil {
		return false, err
	}
	return h.n.findProp(name) != nil, nil
}

func (h *handle) Property(ctx context.Context, name string) (*store.Property, error) {
	if err := h.s.check(); err != nil {
		return nil, err
	}
	p := h.n.findProp(name)
	if p == nil {
		return nil, store.ErrPropertyNotFound
	}
	return exportProp(p), nil
}

func (h *handle) Properties(ctx context.Context) ([]*store.Property, error) {
	if err := h.s.check(); err != nil {
		return nil, err
	}
	out := make([]*store.Property, len(h.n.props))
	for i, p := range h.n.props {
		out[i] = exportProp(p)
	}
	return out, nil
}

func exportProp(p *prop) *store.Property {
	return &store.Property{
		Name:     p.name,
		Multiple: p.multiple,
		Values:   append([]store.Value(nil), p.values...),
	}
}

func (h *handle) SetProperty(ctx context.Context, name string, v store.Value) error {
	if err := h.mutable(); err != nil {
		return err
	}
	if p := h.n.findProp(name); p != nil && p.multiple {
		return store.ErrPropertyMultiplicity
	}
	h.n.setProp(name, false, []store.Value{v})
	return nil
}

func (h *handle) SetPropertyValues(ctx context.Context, name string, vs []store.Value) error {
	if err := h.mutable(); err != nil {
		return err
	}
	if p := h.n.findProp(name); p != nil && !p.multiple {
		return store.ErrPropertyMultiplicity
	}
	h.n.setProp(name, true, append([]store.Value(nil), vs...))
	return nil
}

func (h *handle) RemoveProperty(ctx context.Context, name string) error {
	if err := h.mutable(); err != nil {
		return err
	}
	h.n.removeProp(name)
	return nil
}

func (h *handle) HasChild(ctx context.Context, name string) (bool, error) {
	if err := h.s.check(); err != nil {
		return false, err
	}
	return h.n.findChild(name) != nil, nil
}

func (h *handle) Child(ctx context.Context, name string) (store.Node, error) {
	if err := h.s.check(); err != nil {
		return nil, err
	}
	c := h.n.findChild(name)
	if c == nil {
		return nil, store.ErrNodeNotFound
	}
	return h.s.handleFor(c), nil
}

func (h *handle) Children(ctx context.Context) ([]store.Node, error) {
	if err := h.s.check(); err != nil {
		return nil, err
	}
	out := make([]store.Node, len(h.n.children))
	for i, c := range h.n.children {
		out[i] = h.s.handleFor(c)
	}
	return out, nil
}

func (h *handle) AddChild(ctx context.Context, name, primaryType string) (store.Node, error) {
	if err := h.mutable(); err != nil {
		return nil, err
	}
	if h.n.findChild(name) != nil {
		return nil, store.ErrNodeExists
	}
	c := newNode(name, primaryType, h.s.now())
	c.parent = h.n
	h.n.children = append(h.n.children, c)
	return h.s.handleFor(c), nil
}

func (h *handle) Remove(ctx context.Context) error {
	if err := h.s.check(); err != nil {
		return err
	}
	if h.n.parent == nil {
		return store.ErrNodeNotFound
	}
	if h.n.parent.checkedIn() {
		return store.ErrCheckedIn
	}
	h.s.detach(h.n)
	return nil
}

func (h *handle) Mixins(ctx context.Context) ([]string, error) {
	if err := h.s.check(); err != nil {
		return nil, err
	}
	return append([]string(nil), h.n.mixins...), nil
}

func (h *handle) HasMixin(ctx context.Context, name string) (bool, error) {
	if err := h.s.check(); err != nil {
		return false, err
	}
	return h.n.hasMixin(name), nil
}

func (h *handle) CanAddMixin(ctx context.Context, name string) (bool, error) {
	if err := h.s.check(); err != nil {
		return false, err
	}
	// any mix:-namespaced tag is accepted; everything else is unknown
	return len(name) > 4 && name[:4] == "mix:", nil
}

func (h *handle) AddMixin(ctx context.Context, name string) error {
	if err := h.mutable(); err != nil {
		return err
	}
	if h.n.hasMixin(name) {
		return nil
	}
	h.n.mixins = append(h.n.mixins, name)
	if name == store.MixinVersionable {
		h.n.checkedOut = true
	}
	return nil
}

func (h *handle) mutable() error {
	if err := h.s.check(); err != nil {
		return err
	}
	if h.n.checkedIn() {
		return store.ErrCheckedIn
	}
	return nil
}
