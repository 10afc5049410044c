package etcdstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/arbormap/arbor/store"
)

// Options configures the connection to an etcd cluster.
type Options struct {
	// Endpoints lists the cluster members, e.g. []string{"localhost:2379"}.
	Endpoints []string

	// Namespace prefixes every key written by the store so several trees
	// can share one cluster. Defaults to "arbor".
	Namespace string

	// DialTimeout bounds the initial connection. Defaults to 5s.
	DialTimeout time.Duration

	// RequestTimeout bounds the connectivity probe performed by Open.
	// Defaults to 3s.
	RequestTimeout time.Duration

	// TLS enables transport security when set.
	TLS *tls.Config
}

func (o *Options) defaults() {
	if o.Namespace == "" {
		o.Namespace = "arbor"
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 3 * time.Second
	}
}

// Store is a node tree backed by an etcd cluster. Every node is one JSON
// document; writes go straight to the cluster, so Session.Save is a no-op
// and sessions observe each other's changes immediately. Versioning is not
// supported.
type Store struct {
	client *clientv3.Client
	ns     string
}

// Open connects to the cluster, verifies connectivity and makes sure the
// root node exists.
func Open(opts Options) (*Store, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("etcdstore: endpoints cannot be empty")
	}
	opts.defaults()

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
		TLS:         opts.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("etcdstore: failed to create client: %w", err)
	}

	st := &Store{client: cli, ns: opts.Namespace}

	ctx, cancel := context.WithTimeout(context.Background(), opts.RequestTimeout)
	defer cancel()
	if err := st.ensureRoot(ctx); err != nil {
		cli.Close()
		return nil, err
	}
	return st, nil
}

// Wrap builds a store around an existing client. The caller keeps ownership
// of the client; Close does not touch it.
func Wrap(cli *clientv3.Client, namespace string) (*Store, error) {
	if namespace == "" {
		namespace = "arbor"
	}
	st := &Store{client: cli, ns: namespace}
	if err := st.ensureRoot(context.Background()); err != nil {
		return nil, err
	}
	return st, nil
}

func (st *Store) Close() error {
	return st.client.Close()
}

func (st *Store) Session() (store.Session, error) {
	return &session{st: st}, nil
}

func (st *Store) nodeKey(path string) string { return nodeKey(st.ns, path) }
func (st *Store) idKey(id string) string     { return idKey(st.ns, id) }

func nodeKey(ns, path string) string { return ns + "/node" + path }
func idKey(ns, id string) string     { return ns + "/id/" + id }

// pathFromKey recovers the node path from a key under the given namespace.
func pathFromKey(ns, key string) string {
	return strings.TrimPrefix(key, ns+"/node")
}

// inSubtree reports whether key addresses root itself or a descendant.
// A plain prefix test would also match siblings like /a/bc for root /a.
func inSubtree(root, key string) bool {
	return key == root || strings.HasPrefix(key, root+"/")
}

func (st *Store) ensureRoot(ctx context.Context) error {
	key := st.nodeKey(store.RootPath)
	resp, err := st.client.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("etcdstore: failed to probe root: %w", err)
	}
	if resp.Count > 0 {
		return nil
	}
	doc := &nodeDoc{
		ID:   uuid.NewString(),
		Type: store.TypeUnstructured,
		Props: map[string]propDoc{
			store.PropCreated: encodeProp(false, []store.Value{store.DateValue(time.Now().UTC())}),
		},
	}
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	if _, err := st.client.Put(ctx, key, data); err != nil {
		return fmt.Errorf("etcdstore: failed to create root: %w", err)
	}
	if _, err := st.client.Put(ctx, st.idKey(doc.ID), store.RootPath); err != nil {
		return fmt.Errorf("etcdstore: failed to index root: %w", err)
	}
	return nil
}

type session struct {
	st     *Store
	closed bool
}

func (s *session) check() error {
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

func (s *session) Root(ctx context.Context) (store.Node, error) {
	return s.Node(ctx, store.RootPath)
}

func (s *session) Node(ctx context.Context, path string) (store.Node, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	doc, err := s.load(ctx, path)
	if err != nil {
		return nil, err
	}
	return &node{s: s, path: path, id: doc.ID, primaryType: doc.Type}, nil
}

func (s *session) NodeByIdentifier(ctx context.Context, id string) (store.Node, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	resp, err := s.st.client.Get(ctx, s.st.idKey(id))
	if err != nil {
		return nil, fmt.Errorf("etcdstore: failed to look up identifier %s: %w", id, err)
	}
	if resp.Count == 0 {
		return nil, store.ErrNodeNotFound
	}
	return s.Node(ctx, string(resp.Kvs[0].Value))
}

func (s *session) HasNode(ctx context.Context, path string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	resp, err := s.st.client.Get(ctx, s.st.nodeKey(path), clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("etcdstore: failed to probe %s: %w", path, err)
	}
	return resp.Count > 0, nil
}

func (s *session) Move(ctx context.Context, src, dest string) error {
	if err := s.check(); err != nil {
		return err
	}
	if store.IsRoot(src) || store.IsRoot(dest) {
		return fmt.Errorf("etcdstore: cannot move the root node")
	}
	if has, err := s.HasNode(ctx, src); err != nil {
		return err
	} else if !has {
		return fmt.Errorf("etcdstore: move source %s: %w", src, store.ErrNodeNotFound)
	}
	if has, err := s.HasNode(ctx, dest); err != nil {
		return err
	} else if has {
		return fmt.Errorf("etcdstore: move destination %s: %w", dest, store.ErrNodeExists)
	}
	destParent := store.ParentPath(dest)
	if has, err := s.HasNode(ctx, destParent); err != nil {
		return err
	} else if !has {
		return fmt.Errorf("etcdstore: move destination parent %s: %w", destParent, store.ErrNodeNotFound)
	}

	srcKey := s.st.nodeKey(src)
	resp, err := s.st.client.Get(ctx, srcKey, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("etcdstore: failed to read subtree %s: %w", src, err)
	}
	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		if !inSubtree(srcKey, key) {
			continue
		}
		newPath := dest + strings.TrimPrefix(pathFromKey(s.st.ns, key), src)
		if _, err := s.st.client.Put(ctx, s.st.nodeKey(newPath), string(kv.Value)); err != nil {
			return fmt.Errorf("etcdstore: failed to write %s: %w", newPath, err)
		}
		if _, err := s.st.client.Delete(ctx, key); err != nil {
			return fmt.Errorf("etcdstore: failed to delete %s: %w", key, err)
		}
		doc, err := unmarshalDoc(newPath, kv.Value)
		if err != nil {
			return err
		}
		if _, err := s.st.client.Put(ctx, s.st.idKey(doc.ID), newPath); err != nil {
			return fmt.Errorf("etcdstore: failed to reindex %s: %w", newPath, err)
		}
	}

	srcParent := store.ParentPath(src)
	if err := s.mutate(ctx, srcParent, func(doc *nodeDoc) error {
		doc.Children = removeName(doc.Children, store.BaseName(src))
		return nil
	}); err != nil {
		return err
	}
	return s.mutate(ctx, destParent, func(doc *nodeDoc) error {
		doc.Children = append(doc.Children, store.BaseName(dest))
		return nil
	})
}

// Save is a no-op: every mutation is written to the cluster as it happens.
func (s *session) Save(ctx context.Context) error {
	return s.check()
}

func (s *session) VersionManager() (store.VersionManager, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return nil, store.ErrVersioningUnsupported
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

func (s *session) load(ctx context.Context, path string) (*nodeDoc, error) {
	resp, err := s.st.client.Get(ctx, s.st.nodeKey(path))
	if err != nil {
		return nil, fmt.Errorf("etcdstore: failed to read %s: %w", path, err)
	}
	if resp.Count == 0 {
		return nil, store.ErrNodeNotFound
	}
	return unmarshalDoc(path, resp.Kvs[0].Value)
}

func (s *session) put(ctx context.Context, path string, doc *nodeDoc) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	if _, err := s.st.client.Put(ctx, s.st.nodeKey(path), data); err != nil {
		return fmt.Errorf("etcdstore: failed to write %s: %w", path, err)
	}
	return nil
}

// mutate applies fn to the stored document and writes it back.
func (s *session) mutate(ctx context.Context, path string, fn func(*nodeDoc) error) error {
	doc, err := s.load(ctx, path)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.put(ctx, path, doc)
}
