package store

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by store implementations.
var (
	// ErrNodeNotFound is returned when a node does not exist at the
	// requested path or identifier.
	ErrNodeNotFound = errors.New("store: node not found")

	// ErrNodeExists is returned when a child with the requested name
	// already exists under the parent.
	ErrNodeExists = errors.New("store: node already exists")

	// ErrPropertyNotFound is returned when a requested property is not set
	// on the node.
	ErrPropertyNotFound = errors.New("store: property not found")

	// ErrPropertyMultiplicity is returned when a single value is written
	// over an existing multi-valued property or vice versa. Multiplicity
	// cannot be changed in place; remove the property first.
	ErrPropertyMultiplicity = errors.New("store: property multiplicity mismatch")

	// ErrVersioningUnsupported is returned by Session.VersionManager on
	// backends without a versioning facility, and by version operations
	// against nodes that do not carry the versionable mixin.
	ErrVersioningUnsupported = errors.New("store: versioning not supported")

	// ErrCheckedIn is returned when a mutation is attempted on a
	// versionable node that is currently checked in. Call
	// VersionManager.Checkout first.
	ErrCheckedIn = errors.New("store: node is checked in")

	// ErrClosed is returned when an operation is attempted on a closed
	// session.
	ErrClosed = errors.New("store: session closed")
)

// Session is a logical connection to a content store. A session is not safe
// for concurrent use; callers own one session per goroutine.
//
// Mutations performed through a session are transient until Save is called.
// How isolation between concurrent sessions behaves beyond that is
// backend-specific and out of scope here.
type Session interface {
	// Root returns the root node ("/"). The root always exists.
	Root(ctx context.Context) (Node, error)

	// Node returns the node at the given absolute path, or ErrNodeNotFound.
	Node(ctx context.Context, path string) (Node, error)

	// NodeByIdentifier returns the node with the given stable identifier,
	// or ErrNodeNotFound.
	NodeByIdentifier(ctx context.Context, id string) (Node, error)

	// HasNode reports whether a node exists at the given absolute path.
	HasNode(ctx context.Context, path string) (bool, error)

	// Move relocates the node at src (and its whole subtree) to the
	// absolute path dest. The destination's parent must exist. Node
	// identifiers are preserved across the move.
	Move(ctx context.Context, src, dest string) error

	// Save persists all transient changes made through this session.
	Save(ctx context.Context) error

	// VersionManager returns the versioning facility, or
	// ErrVersioningUnsupported when the backend has none.
	VersionManager() (VersionManager, error)

	// Close releases the session. Further use returns ErrClosed.
	Close() error
}

// Node is a handle to a single node in the tree. Path, Name, Identifier and
// PrimaryType are snapshot data captured when the handle was obtained; all
// other accessors hit the backend and honor the passed context.
type Node interface {
	// Path returns the absolute path of the node.
	Path() string

	// Name returns the last path component ("" for the root).
	Name() string

	// Identifier returns the stable identifier assigned at creation.
	// Identifiers survive moves.
	Identifier() string

	// PrimaryType returns the node type name, e.g. TypeUnstructured.
	PrimaryType() string

	// Parent returns the parent node, or ErrNodeNotFound for the root.
	Parent(ctx context.Context) (Node, error)

	// HasProperty reports whether the named property is set.
	HasProperty(ctx context.Context, name string) (bool, error)

	// Property returns the named property, or ErrPropertyNotFound.
	Property(ctx context.Context, name string) (*Property, error)

	// Properties returns all properties set on this node, in no guaranteed
	// order.
	Properties(ctx context.Context) ([]*Property, error)

	// SetProperty sets a single-valued property. Writing over an existing
	// multi-valued property of the same name returns
	// ErrPropertyMultiplicity.
	SetProperty(ctx context.Context, name string, v Value) error

	// SetPropertyValues sets a multi-valued property. Writing over an
	// existing single-valued property of the same name returns
	// ErrPropertyMultiplicity. An empty slice stores an empty multi-valued
	// property.
	SetPropertyValues(ctx context.Context, name string, vs []Value) error

	// RemoveProperty removes the named property. Removing an absent
	// property is not an error.
	RemoveProperty(ctx context.Context, name string) error

	// HasChild reports whether a child with the given name exists.
	HasChild(ctx context.Context, name string) (bool, error)

	// Child returns the named child node, or ErrNodeNotFound.
	Child(ctx context.Context, name string) (Node, error)

	// Children returns the child nodes in stable insertion order.
	Children(ctx context.Context) ([]Node, error)

	// AddChild creates a child node with the given name and primary type
	// (TypeUnstructured when primaryType is empty) and returns its handle.
	// Returns ErrNodeExists when the name is taken.
	AddChild(ctx context.Context, name, primaryType string) (Node, error)

	// Remove deletes this node and its whole subtree.
	Remove(ctx context.Context) error

	// Mixins returns the mixin tags applied to this node.
	Mixins(ctx context.Context) ([]string, error)

	// HasMixin reports whether the named mixin is applied.
	HasMixin(ctx context.Context, name string) (bool, error)

	// CanAddMixin reports whether the named mixin may be applied to this
	// node.
	CanAddMixin(ctx context.Context, name string) (bool, error)

	// AddMixin applies the named mixin. Applying an already-present mixin
	// is not an error.
	AddMixin(ctx context.Context, name string) error
}

// Property is a snapshot of one node property.
type Property struct {
	// Name is the property name, unique per node.
	Name string

	// Multiple distinguishes a multi-valued property from a single-valued
	// one. A multi-valued property with one element is not the same thing
	// as a single-valued property.
	Multiple bool

	// Values holds the property values. Single-valued properties have
	// exactly one element.
	Values []Value
}

// Value returns the first value, or the zero Value when the property is an
// empty multi-valued one.
func (p *Property) Value() Value {
	if len(p.Values) == 0 {
		return Value{}
	}
	return p.Values[0]
}

// VersionManager exposes the optional check-in/check-out versioning facility
// of a backend. All operations address nodes by absolute path and return
// ErrVersioningUnsupported when the node does not carry MixinVersionable.
type VersionManager interface {
	// IsCheckedOut reports whether the node is checked out. Nodes without
	// MixinVersionable are always checked out.
	IsCheckedOut(ctx context.Context, path string) (bool, error)

	// Checkout makes a checked-in node writable again.
	Checkout(ctx context.Context, path string) error

	// Checkin freezes the current state of the node as a new version and
	// marks the node read-only until the next Checkout.
	Checkin(ctx context.Context, path string) (*Version, error)

	// BaseVersion returns the version the node's current state is based
	// on, i.e. the most recent check-in.
	BaseVersion(ctx context.Context, path string) (*Version, error)

	// Versions returns all versions of the node, oldest first.
	Versions(ctx context.Context, path string) ([]*Version, error)

	// Restore replaces the node's current state with the named version's
	// frozen state and leaves the node checked in.
	Restore(ctx context.Context, path, versionName string) error
}

// Version describes one frozen version of a node.
type Version struct {
	// Name is the version name, unique within the node's history.
	Name string

	// Created is the check-in time.
	Created time.Time
}
