package redistore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arbormap/arbor/store"
)

// Hash meta fields. Property names never collide with them because they
// live outside the "__" prefix.
const (
	metaID     = "__id"
	metaType   = "__type"
	metaMixins = "__mixins"
)

// Options configures the Redis connection behind a Store.
type Options struct {
	// URL is the Redis connection string (e.g. "redis://localhost:6379").
	URL string

	// KeyPrefix namespaces every key the store writes. Defaults to "arbor".
	KeyPrefix string

	// TLS configuration for secure connections.
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection
	// establishment.
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations.
	WriteTimeout time.Duration
}

// Store is a node tree persisted in Redis: one hash per node, one list per
// node for child order, and an identifier index. It has no versioning
// facility.
//
// Unlike memstore, mutations are applied to Redis immediately;
// Session.Save is a checkpoint no-op.
type Store struct {
	client *redis.Client
	prefix string
	clock  func() time.Time
}

// Open connects to Redis, verifies the connection and makes sure the root
// node exists.
func Open(opts Options) (*Store, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "arbor"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("redistore: failed to parse Redis URL: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redistore: failed to connect: %w", err)
	}

	st := &Store{client: client, prefix: opts.KeyPrefix, clock: time.Now}
	if err := st.ensureRoot(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// Wrap builds a Store over an existing client, for callers that manage the
// connection themselves.
func Wrap(client *redis.Client, keyPrefix string) (*Store, error) {
	if keyPrefix == "" {
		keyPrefix = "arbor"
	}
	st := &Store{client: client, prefix: keyPrefix, clock: time.Now}
	if err := st.ensureRoot(context.Background()); err != nil {
		return nil, err
	}
	return st, nil
}

// Close releases the underlying connection. Sessions handed out earlier
// stop working.
func (st *Store) Close() error {
	return st.client.Close()
}

// Session opens a session against the store.
func (st *Store) Session() (store.Session, error) {
	return &session{st: st}, nil
}

func (st *Store) nodeKey(path string) string     { return st.prefix + ":node:" + path }
func (st *Store) childrenKey(path string) string { return st.prefix + ":children:" + path }
func (st *Store) idKey(id string) string         { return st.prefix + ":id:" + id }

func (st *Store) ensureRoot(ctx context.Context) error {
	key := st.nodeKey(store.RootPath)
	exists, err := st.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redistore: %w", err)
	}
	if exists > 0 {
		return nil
	}
	id := uuid.NewString()
	created, err := encodeProperty(false, []store.Value{store.DateValue(st.clock())})
	if err != nil {
		return err
	}
	if err := st.client.HSet(ctx, key,
		metaID, id,
		metaType, store.TypeUnstructured,
		store.PropCreated, created).Err(); err != nil {
		return fmt.Errorf("redistore: %w", err)
	}
	return st.client.Set(ctx, st.idKey(id), store.RootPath, 0).Err()
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
	meta, err := s.st.client.HMGet(ctx, s.st.nodeKey(path), metaID, metaType).Result()
	if err != nil {
		return nil, fmt.Errorf("redistore: %w", err)
	}
	id, _ := meta[0].(string)
	primaryType, _ := meta[1].(string)
	if id == "" {
		return nil, store.ErrNodeNotFound
	}
	return &node{s: s, path: path, id: id, primaryType: primaryType}, nil
}

func (s *session) NodeByIdentifier(ctx context.Context, id string) (store.Node, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	path, err := s.st.client.Get(ctx, s.st.idKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redistore: %w", err)
	}
	return s.Node(ctx, path)
}

func (s *session) HasNode(ctx context.Context, path string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	n, err := s.st.client.Exists(ctx, s.st.nodeKey(path)).Result()
	if err != nil {
		return false, fmt.Errorf("redistore: %w", err)
	}
	return n > 0, nil
}

// Move relocates a subtree by rewriting every descendant's keys and fixing
// up the parent child lists. Not atomic; concurrent writers to the same
// subtree race.
func (s *session) Move(ctx context.Context, src, dest string) error {
	if err := s.check(); err != nil {
		return err
	}
	if store.IsRoot(src) {
		return fmt.Errorf("redistore: cannot move the root")
	}
	has, err := s.HasNode(ctx, src)
	if err != nil {
		return err
	}
	if !has {
		return store.ErrNodeNotFound
	}
	if has, err = s.HasNode(ctx, dest); err != nil {
		return err
	}
	if has {
		return store.ErrNodeExists
	}
	destParent := store.ParentPath(dest)
	if has, err = s.HasNode(ctx, destParent); err != nil {
		return err
	}
	if !has {
		return store.ErrNodeNotFound
	}

	if err := s.relocate(ctx, src, dest); err != nil {
		return err
	}

	srcParent := store.ParentPath(src)
	if err := s.st.client.LRem(ctx, s.st.childrenKey(srcParent), 1, store.BaseName(src)).Err(); err != nil {
		return fmt.Errorf("redistore: %w", err)
	}
	if err := s.st.client.RPush(ctx, s.st.childrenKey(destParent), store.BaseName(dest)).Err(); err != nil {
		return fmt.Errorf("redistore: %w", err)
	}
	return nil
}

// relocate renames the node's own keys and recurses into its children.
func (s *session) relocate(ctx context.Context, src, dest string) error {
	names, err := s.st.client.LRange(ctx, s.st.childrenKey(src), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redistore: %w", err)
	}
	for _, name := range names {
		if err := s.relocate(ctx, store.Join(src, name), store.Join(dest, name)); err != nil {
			return err
		}
	}

	if err := s.st.client.Rename(ctx, s.st.nodeKey(src), s.st.nodeKey(dest)).Err(); err != nil {
		return fmt.Errorf("redistore: %w", err)
	}
	if len(names) > 0 {
		if err := s.st.client.Rename(ctx, s.st.childrenKey(src), s.st.childrenKey(dest)).Err(); err != nil {
			return fmt.Errorf("redistore: %w", err)
		}
	}
	id, err := s.st.client.HGet(ctx, s.st.nodeKey(dest), metaID).Result()
	if err != nil {
		return fmt.Errorf("redistore: %w", err)
	}
	return s.st.client.Set(ctx, s.st.idKey(id), dest, 0).Err()
}

// Save is a no-op: every mutation is already in Redis.
func (s *session) Save(ctx context.Context) error {
	return s.check()
}

func (s *session) VersionManager() (store.VersionManager, error) {
	return nil, store.ErrVersioningUnsupported
}

func (s *session) Close() error {
	s.closed = true
	return nil
}
