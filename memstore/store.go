package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/arbormap/arbor/store"
)

// versionStorageName roots the version histories outside the regular tree.
const versionStorageName = store.VersionStorageName

// Store is the shared, persisted state behind memstore sessions.
type Store struct {
	mu       sync.Mutex
	root     *node
	versions *node
	clock    func() time.Time
}

// Options configures a Store.
type Options struct {
	// Clock supplies timestamps for node creation and check-ins.
	// Defaults to time.Now; tests pin it for deterministic output.
	Clock func() time.Time
}

// DefaultOptions returns the default Store configuration.
func DefaultOptions() Options {
	return Options{Clock: time.Now}
}

// New creates an empty in-memory store.
func New() *Store {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions creates an empty in-memory store with explicit options.
func NewWithOptions(opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	st := &Store{clock: opts.Clock}
	st.root = newNode("", store.TypeUnstructured, st.clock())
	st.versions = newNode(versionStorageName, store.TypeUnstructured, st.clock())
	st.versions.parent = st.root
	return st
}

// Close releases the store. It exists so memory-backed stores can stand in
// for networked ones behind a common surface; there is nothing to release.
func (st *Store) Close() error {
	return nil
}

// Session opens a session over a snapshot of the current persisted state.
func (st *Store) Session() (store.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := &session{st: st}
	s.root = st.root.clone(nil)
	s.versions = st.versions.clone(nil)
	s.versions.parent = s.root
	return s, nil
}

// session is one snapshot-backed connection. Not safe for concurrent use.
type session struct {
	st       *Store
	root     *node
	versions *node
	closed   bool
}

func (s *session) check() error {
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

func (s *session) now() time.Time {
	return s.st.clock()
}

func (s *session) Root(ctx context.Context) (store.Node, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.handleFor(s.root), nil
}

func (s *session) Node(ctx context.Context, path string) (store.Node, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	n := s.nodeAt(path)
	if n == nil {
		return nil, store.ErrNodeNotFound
	}
	return s.handleFor(n), nil
}

func (s *session) HasNode(ctx context.Context, path string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	return s.nodeAt(path) != nil, nil
}

func (s *session) nodeAt(path string) *node {
	parts := store.Components(path)
	cur := s.root
	for i, part := range parts {
		if i == 0 && part == versionStorageName {
			cur = s.versions
			continue
		}
		cur = cur.findChild(part)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func (s *session) NodeByIdentifier(ctx context.Context, id string) (store.Node, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if n := findByID(s.root, id); n != nil {
		return s.handleFor(n), nil
	}
	if n := findByID(s.versions, id); n != nil {
		return s.handleFor(n), nil
	}
	return nil, store.ErrNodeNotFound
}

func findByID(n *node, id string) *node {
	if n.id == id {
		return n
	}
	for _, c := range n.children {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func (s *session) Move(ctx context.Context, src, dest string) error {
	if err := s.check(); err != nil {
		return err
	}
	n := s.nodeAt(src)
	if n == nil || n.parent == nil {
		return store.ErrNodeNotFound
	}
	destParent := s.nodeAt(store.ParentPath(dest))
	if destParent == nil {
		return store.ErrNodeNotFound
	}
	name := store.BaseName(dest)
	if destParent.findChild(name) != nil {
		return store.ErrNodeExists
	}
	if n.parent.checkedIn() || destParent.checkedIn() {
		return store.ErrCheckedIn
	}
	s.detach(n)
	n.name = name
	n.parent = destParent
	destParent.children = append(destParent.children, n)
	return nil
}

func (s *session) detach(n *node) {
	parent := n.parent
	for i, c := range parent.children {
		if c == n {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	n.parent = nil
}

// Save publishes the session's state as the store's new persisted state.
func (s *session) Save(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.root = s.root.clone(nil)
	s.st.versions = s.versions.clone(nil)
	s.st.versions.parent = s.st.root
	return nil
}

func (s *session) VersionManager() (store.VersionManager, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return &versionManager{s: s}, nil
}

func (s *session) Close() error {
	s.closed = true
	return nil
}
