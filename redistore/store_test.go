package redistore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbormap/arbor"
	"github.com/arbormap/arbor/store"
)

func setupSession(t *testing.T) store.Session {
	t.Helper()

	mr := miniredis.RunT(t)
	st, err := Open(Options{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sess, err := st.Session()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestOpenBadURL(t *testing.T) {
	_, err := Open(Options{URL: "::not-a-url"})
	assert.Error(t, err)
}

func TestRootExists(t *testing.T) {
	sess := setupSession(t)
	ctx := context.Background()

	root, err := sess.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/", root.Path())
	assert.Equal(t, "", root.Name())
	assert.NotEmpty(t, root.Identifier())
	assert.Equal(t, store.TypeUnstructured, root.PrimaryType())

	has, err := root.HasProperty(ctx, store.PropCreated)
	require.NoError(t, err)
	assert.True(t, has)

	_, err = root.Parent(ctx)
	assert.ErrorIs(t, err, store.ErrNodeNotFound)
}

func TestNodeLifecycle(t *testing.T) {
	sess := setupSession(t)
	ctx := context.Background()
	root, err := sess.Root(ctx)
	require.NoError(t, err)

	child, err := root.AddChild(ctx, "content", "")
	require.NoError(t, err)
	assert.Equal(t, "/content", child.Path())
	assert.Equal(t, store.TypeUnstructured, child.PrimaryType())

	_, err = root.AddChild(ctx, "content", "")
	assert.ErrorIs(t, err, store.ErrNodeExists)

	got, err := sess.Node(ctx, "/content")
	require.NoError(t, err)
	assert.Equal(t, child.Identifier(), got.Identifier())

	_, err = sess.Node(ctx, "/missing")
	assert.ErrorIs(t, err, store.ErrNodeNotFound)

	parent, err := child.Parent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/", parent.Path())

	require.NoError(t, child.Remove(ctx))
	has, err := sess.HasNode(ctx, "/content")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestProperties(t *testing.T) {
	sess := setupSession(t)
	ctx := context.Background()
	root, err := sess.Root(ctx)
	require.NoError(t, err)
	n, err := root.AddChild(ctx, "props", "")
	require.NoError(t, err)

	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, n.SetProperty(ctx, "title", store.StringValue("hi")))
	require.NoError(t, n.SetProperty(ctx, "count", store.LongValue(5)))
	require.NoError(t, n.SetProperty(ctx, "ratio", store.DoubleValue(0.5)))
	require.NoError(t, n.SetProperty(ctx, "flag", store.BoolValue(true)))
	require.NoError(t, n.SetProperty(ctx, "at", store.DateValue(when)))
	require.NoError(t, n.SetProperty(ctx, "blob", store.BinaryValue([]byte{1, 2, 3})))
	require.NoError(t, n.SetPropertyValues(ctx, "tags",
		[]store.Value{store.StringValue("a"), store.StringValue("b")}))

	p, err := n.Property(ctx, "title")
	require.NoError(t, err)
	assert.Equal(t, "hi", p.Value().Str)
	assert.False(t, p.Multiple)

	p, err = n.Property(ctx, "at")
	require.NoError(t, err)
	assert.True(t, p.Value().Time.Equal(when))

	p, err = n.Property(ctx, "blob")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, p.Value().Data)

	p, err = n.Property(ctx, "tags")
	require.NoError(t, err)
	assert.True(t, p.Multiple)
	require.Len(t, p.Values, 2)
	assert.Equal(t, "b", p.Values[1].Str)

	t.Run("multiplicity is fixed", func(t *testing.T) {
		err := n.SetPropertyValues(ctx, "title", []store.Value{store.StringValue("x")})
		assert.ErrorIs(t, err, store.ErrPropertyMultiplicity)
		err = n.SetProperty(ctx, "tags", store.StringValue("x"))
		assert.ErrorIs(t, err, store.ErrPropertyMultiplicity)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, n.RemoveProperty(ctx, "title"))
		has, err := n.HasProperty(ctx, "title")
		require.NoError(t, err)
		assert.False(t, has)
		assert.NoError(t, n.RemoveProperty(ctx, "title"), "removing an absent property is fine")
		_, err = n.Property(ctx, "title")
		assert.ErrorIs(t, err, store.ErrPropertyNotFound)
	})

	t.Run("listing skips metadata", func(t *testing.T) {
		props, err := n.Properties(ctx)
		require.NoError(t, err)
		for _, p := range props {
			assert.NotContains(t, p.Name, "__")
		}
	})

	t.Run("reserved names rejected", func(t *testing.T) {
		assert.Error(t, n.SetProperty(ctx, "__id", store.StringValue("x")))
	})
}

func TestChildrenOrder(t *testing.T) {
	sess := setupSession(t)
	ctx := context.Background()
	root, err := sess.Root(ctx)
	require.NoError(t, err)
	parent, err := root.AddChild(ctx, "ordered", "")
	require.NoError(t, err)

	for _, name := range []string{"c", "a", "b"} {
		_, err := parent.AddChild(ctx, name, "")
		require.NoError(t, err)
	}

	children, err := parent.Children(ctx)
	require.NoError(t, err)
	names := make([]string, len(children))
	for i, c := range children {
		names[i] = c.Name()
	}
	assert.Equal(t, []string{"c", "a", "b"}, names, "insertion order is kept")
}

func TestIdentifierIndex(t *testing.T) {
	sess := setupSession(t)
	ctx := context.Background()
	root, err := sess.Root(ctx)
	require.NoError(t, err)
	n, err := root.AddChild(ctx, "tracked", "")
	require.NoError(t, err)
	id := n.Identifier()

	got, err := sess.NodeByIdentifier(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/tracked", got.Path())

	_, err = sess.NodeByIdentifier(ctx, "no-such-id")
	assert.ErrorIs(t, err, store.ErrNodeNotFound)
}

func TestMove(t *testing.T) {
	sess := setupSession(t)
	ctx := context.Background()
	root, err := sess.Root(ctx)
	require.NoError(t, err)

	a, err := root.AddChild(ctx, "a", "")
	require.NoError(t, err)
	b, err := a.AddChild(ctx, "b", "")
	require.NoError(t, err)
	_, err = b.AddChild(ctx, "c", "")
	require.NoError(t, err)
	require.NoError(t, b.SetProperty(ctx, "kept", store.StringValue("yes")))
	id := b.Identifier()

	require.NoError(t, sess.Move(ctx, "/a/b", "/b2"))

	has, err := sess.HasNode(ctx, "/a/b")
	require.NoError(t, err)
	assert.False(t, has)

	moved, err := sess.Node(ctx, "/b2")
	require.NoError(t, err)
	assert.Equal(t, id, moved.Identifier(), "identifiers survive moves")

	p, err := moved.Property(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, "yes", p.Value().Str)

	grand, err := sess.Node(ctx, "/b2/c")
	require.NoError(t, err)
	byID, err := sess.NodeByIdentifier(ctx, grand.Identifier())
	require.NoError(t, err)
	assert.Equal(t, "/b2/c", byID.Path(), "the identifier index follows the subtree")

	children, err := root.Children(ctx)
	require.NoError(t, err)
	names := make([]string, len(children))
	for i, c := range children {
		names[i] = c.Name()
	}
	assert.Equal(t, []string{"a", "b2"}, names)

	t.Run("occupied destination", func(t *testing.T) {
		err := sess.Move(ctx, "/b2", "/a")
		assert.ErrorIs(t, err, store.ErrNodeExists)
	})

	t.Run("missing source", func(t *testing.T) {
		err := sess.Move(ctx, "/gone", "/elsewhere")
		assert.ErrorIs(t, err, store.ErrNodeNotFound)
	})
}

func TestRemoveSubtree(t *testing.T) {
	sess := setupSession(t)
	ctx := context.Background()
	root, err := sess.Root(ctx)
	require.NoError(t, err)

	a, err := root.AddChild(ctx, "tree", "")
	require.NoError(t, err)
	b, err := a.AddChild(ctx, "branch", "")
	require.NoError(t, err)
	leafID := b.Identifier()

	require.NoError(t, a.Remove(ctx))

	for _, path := range []string{"/tree", "/tree/branch"} {
		has, err := sess.HasNode(ctx, path)
		require.NoError(t, err)
		assert.False(t, has, path)
	}
	_, err = sess.NodeByIdentifier(ctx, leafID)
	assert.ErrorIs(t, err, store.ErrNodeNotFound, "the identifier index is cleaned up")
}

func TestMixins(t *testing.T) {
	sess := setupSession(t)
	ctx := context.Background()
	root, err := sess.Root(ctx)
	require.NoError(t, err)
	n, err := root.AddChild(ctx, "mixed", "")
	require.NoError(t, err)

	ok, err := n.CanAddMixin(ctx, store.MixinReferenceable)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = n.CanAddMixin(ctx, store.MixinVersionable)
	require.NoError(t, err)
	assert.False(t, ok, "no versioning facility, no versionable mixin")

	require.NoError(t, n.AddMixin(ctx, store.MixinReferenceable))
	require.NoError(t, n.AddMixin(ctx, store.MixinReferenceable))

	mixins, err := n.Mixins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{store.MixinReferenceable}, mixins)

	has, err := n.HasMixin(ctx, store.MixinReferenceable)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestVersioningUnsupported(t *testing.T) {
	sess := setupSession(t)
	_, err := sess.VersionManager()
	assert.ErrorIs(t, err, store.ErrVersioningUnsupported)
}

func TestClosedSession(t *testing.T) {
	sess := setupSession(t)
	ctx := context.Background()
	require.NoError(t, sess.Close())

	_, err := sess.Root(ctx)
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = sess.Node(ctx, "/")
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.ErrorIs(t, sess.Save(ctx), store.ErrClosed)
}

type redisPost struct {
	ID    string   `arbor:"id"`
	Name  string   `arbor:"name"`
	Path  string   `arbor:"path"`
	Title string   `arbor:"prop"`
	Tags  []string `arbor:"prop"`
}

func TestMapperRoundTrip(t *testing.T) {
	sess := setupSession(t)
	ctx := context.Background()
	root, err := sess.Root(ctx)
	require.NoError(t, err)

	m := arbor.New()
	require.NoError(t, m.Register(&redisPost{}))

	post := &redisPost{Name: "first post", Title: "First", Tags: []string{"go", "redis"}}
	node, err := m.Add(ctx, sess, root, post)
	require.NoError(t, err)
	assert.Equal(t, "/first_post", post.Path)

	got, err := arbor.Load[*redisPost](ctx, m, sess, node)
	require.NoError(t, err)
	assert.Equal(t, post.ID, got.ID)
	assert.Equal(t, "First", got.Title)
	assert.Equal(t, []string{"go", "redis"}, got.Tags)

	got.Name = "renamed post"
	moved, err := m.Update(ctx, sess, got)
	require.NoError(t, err)
	assert.Equal(t, "/renamed_post", moved.Path())

	byID, err := sess.NodeByIdentifier(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, "/renamed_post", byID.Path())
}
