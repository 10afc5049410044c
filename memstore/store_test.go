package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbormap/arbor/store"
)

// setupSession creates a store and an open session over it.
func setupSession(t *testing.T) (*Store, store.Session) {
	t.Helper()

	st := New()
	sess, err := st.Session()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return st, sess
}

func TestNodeBasics(t *testing.T) {
	_, sess := setupSession(t)
	ctx := context.Background()

	root, err := sess.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/", root.Path())
	assert.Equal(t, "", root.Name())

	t.Run("add child", func(t *testing.T) {
		node, err := root.AddChild(ctx, "content", "")
		require.NoError(t, err)
		assert.Equal(t, "/content", node.Path())
		assert.Equal(t, "content", node.Name())
		assert.Equal(t, store.TypeUnstructured, node.PrimaryType())
		assert.NotEmpty(t, node.Identifier())
	})

	t.Run("duplicate child name", func(t *testing.T) {
		_, err := root.AddChild(ctx, "content", "")
		assert.ErrorIs(t, err, store.ErrNodeExists)
	})

	t.Run("lookup by path", func(t *testing.T) {
		node, err := sess.Node(ctx, "/content")
		require.NoError(t, err)
		assert.Equal(t, "/content", node.Path())

		_, err = sess.Node(ctx, "/nope")
		assert.ErrorIs(t, err, store.ErrNodeNotFound)
	})

	t.Run("lookup by identifier", func(t *testing.T) {
		node, err := sess.Node(ctx, "/content")
		require.NoError(t, err)

		got, err := sess.NodeByIdentifier(ctx, node.Identifier())
		require.NoError(t, err)
		assert.Equal(t, "/content", got.Path())
	})

	t.Run("created property stamped", func(t *testing.T) {
		node, err := sess.Node(ctx, "/content")
		require.NoError(t, err)
		p, err := node.Property(ctx, store.PropCreated)
		require.NoError(t, err)
		assert.Equal(t, store.KindDate, p.Value().Kind)
		assert.False(t, p.Value().Time.IsZero())
	})

	t.Run("parent of root", func(t *testing.T) {
		_, err := root.Parent(ctx)
		assert.ErrorIs(t, err, store.ErrNodeNotFound)
	})
}

func TestProperties(t *testing.T) {
	_, sess := setupSession(t)
	ctx := context.Background()

	root, _ := sess.Root(ctx)
	node, err := root.AddChild(ctx, "props", "")
	require.NoError(t, err)

	t.Run("set and get single", func(t *testing.T) {
		require.NoError(t, node.SetProperty(ctx, "title", store.StringValue("Hello")))

		p, err := node.Property(ctx, "title")
		require.NoError(t, err)
		assert.False(t, p.Multiple)
		assert.Equal(t, "Hello", p.Value().Str)
	})

	t.Run("set and get multi", func(t *testing.T) {
		vs := []store.Value{store.LongValue(1), store.LongValue(2)}
		require.NoError(t, node.SetPropertyValues(ctx, "nums", vs))

		p, err := node.Property(ctx, "nums")
		require.NoError(t, err)
		assert.True(t, p.Multiple)
		require.Len(t, p.Values, 2)
		assert.Equal(t, int64(2), p.Values[1].Int)
	})

	t.Run("multiplicity cannot change in place", func(t *testing.T) {
		err := node.SetProperty(ctx, "nums", store.LongValue(3))
		assert.ErrorIs(t, err, store.ErrPropertyMultiplicity)

		err = node.SetPropertyValues(ctx, "title", []store.Value{store.StringValue("x")})
		assert.ErrorIs(t, err, store.ErrPropertyMultiplicity)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, node.RemoveProperty(ctx, "title"))
		_, err := node.Property(ctx, "title")
		assert.ErrorIs(t, err, store.ErrPropertyNotFound)

		// removing an absent property is not an error
		assert.NoError(t, node.RemoveProperty(ctx, "title"))
	})

	t.Run("missing property", func(t *testing.T) {
		has, err := node.HasProperty(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, has)
	})
}

func TestChildrenOrder(t *testing.T) {
	_, sess := setupSession(t)
	ctx := context.Background()

	root, _ := sess.Root(ctx)
	parent, err := root.AddChild(ctx, "list", "")
	require.NoError(t, err)

	for _, name := range []string{"a", "b", "c"} {
		_, err := parent.AddChild(ctx, name, "")
		require.NoError(t, err)
	}

	children, err := parent.Children(ctx)
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, "a", children[0].Name())
	assert.Equal(t, "b", children[1].Name())
	assert.Equal(t, "c", children[2].Name())

	// removal keeps the order of the survivors
	require.NoError(t, children[1].Remove(ctx))
	children, err = parent.Children(ctx)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "a", children[0].Name())
	assert.Equal(t, "c", children[1].Name())
}

func TestMove(t *testing.T) {
	_, sess := setupSession(t)
	ctx := context.Background()

	root, _ := sess.Root(ctx)
	a, err := root.AddChild(ctx, "a", "")
	require.NoError(t, err)
	_, err = root.AddChild(ctx, "b", "")
	require.NoError(t, err)
	child, err := a.AddChild(ctx, "leaf", "")
	require.NoError(t, err)
	id := child.Identifier()

	require.NoError(t, sess.Move(ctx, "/a/leaf", "/b/renamed"))

	moved, err := sess.Node(ctx, "/b/renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", moved.Name())
	assert.Equal(t, id, moved.Identifier(), "identifier survives the move")

	has, err := sess.HasNode(ctx, "/a/leaf")
	require.NoError(t, err)
	assert.False(t, has)

	t.Run("missing source", func(t *testing.T) {
		err := sess.Move(ctx, "/a/leaf", "/b/again")
		assert.ErrorIs(t, err, store.ErrNodeNotFound)
	})

	t.Run("occupied destination", func(t *testing.T) {
		err := sess.Move(ctx, "/b/renamed", "/a")
		assert.ErrorIs(t, err, store.ErrNodeExists)
	})
}

func TestSaveVisibility(t *testing.T) {
	st, sess := setupSession(t)
	ctx := context.Background()

	root, _ := sess.Root(ctx)
	_, err := root.AddChild(ctx, "draft", "")
	require.NoError(t, err)

	// a second session opened before Save must not see the new node
	other, err := st.Session()
	require.NoError(t, err)
	defer other.Close()
	has, err := other.HasNode(ctx, "/draft")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, sess.Save(ctx))

	third, err := st.Session()
	require.NoError(t, err)
	defer third.Close()
	has, err = third.HasNode(ctx, "/draft")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestMixins(t *testing.T) {
	_, sess := setupSession(t)
	ctx := context.Background()

	root, _ := sess.Root(ctx)
	node, err := root.AddChild(ctx, "tagged", "")
	require.NoError(t, err)

	ok, err := node.CanAddMixin(ctx, store.MixinReferenceable)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = node.CanAddMixin(ctx, "not-a-mixin")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, node.AddMixin(ctx, store.MixinReferenceable))
	// idempotent
	require.NoError(t, node.AddMixin(ctx, store.MixinReferenceable))

	has, err := node.HasMixin(ctx, store.MixinReferenceable)
	require.NoError(t, err)
	assert.True(t, has)

	mixins, err := node.Mixins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{store.MixinReferenceable}, mixins)
}

func TestVersioning(t *testing.T) {
	_, sess := setupSession(t)
	ctx := context.Background()

	root, _ := sess.Root(ctx)
	node, err := root.AddChild(ctx, "doc", "")
	require.NoError(t, err)
	require.NoError(t, node.AddMixin(ctx, store.MixinVersionable))
	require.NoError(t, node.SetProperty(ctx, "rev", store.LongValue(1)))

	vm, err := sess.VersionManager()
	require.NoError(t, err)

	t.Run("fresh node is checked out", func(t *testing.T) {
		out, err := vm.IsCheckedOut(ctx, "/doc")
		require.NoError(t, err)
		assert.True(t, out)
	})

	t.Run("base version before first checkin", func(t *testing.T) {
		base, err := vm.BaseVersion(ctx, "/doc")
		require.NoError(t, err)
		assert.Equal(t, store.RootVersionName, base.Name)
	})

	t.Run("checkin freezes and locks", func(t *testing.T) {
		v, err := vm.Checkin(ctx, "/doc")
		require.NoError(t, err)
		assert.Equal(t, "1.0", v.Name)

		out, err := vm.IsCheckedOut(ctx, "/doc")
		require.NoError(t, err)
		assert.False(t, out)

		err = node.SetProperty(ctx, "rev", store.LongValue(2))
		assert.ErrorIs(t, err, store.ErrCheckedIn)
	})

	t.Run("checkout unlocks", func(t *testing.T) {
		require.NoError(t, vm.Checkout(ctx, "/doc"))
		require.NoError(t, node.SetProperty(ctx, "rev", store.LongValue(2)))

		v, err := vm.Checkin(ctx, "/doc")
		require.NoError(t, err)
		assert.Equal(t, "1.1", v.Name)
	})

	t.Run("versions oldest first", func(t *testing.T) {
		versions, err := vm.Versions(ctx, "/doc")
		require.NoError(t, err)
		require.Len(t, versions, 3)
		assert.Equal(t, store.RootVersionName, versions[0].Name)
		assert.Equal(t, "1.0", versions[1].Name)
		assert.Equal(t, "1.1", versions[2].Name)
	})

	t.Run("restore brings back frozen state", func(t *testing.T) {
		require.NoError(t, vm.Restore(ctx, "/doc", "1.0"))

		restored, err := sess.Node(ctx, "/doc")
		require.NoError(t, err)
		p, err := restored.Property(ctx, "rev")
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.Value().Int)

		out, err := vm.IsCheckedOut(ctx, "/doc")
		require.NoError(t, err)
		assert.False(t, out, "restore leaves the node checked in")
	})

	t.Run("non-versionable node", func(t *testing.T) {
		plain, err := root.AddChild(ctx, "plain", "")
		require.NoError(t, err)

		out, err := vm.IsCheckedOut(ctx, plain.Path())
		require.NoError(t, err)
		assert.True(t, out)

		_, err = vm.Checkin(ctx, plain.Path())
		assert.ErrorIs(t, err, store.ErrVersioningUnsupported)
	})
}

func TestVersionedChildStandIn(t *testing.T) {
	_, sess := setupSession(t)
	ctx := context.Background()

	root, _ := sess.Root(ctx)
	parent, err := root.AddChild(ctx, "parent", "")
	require.NoError(t, err)
	require.NoError(t, parent.AddMixin(ctx, store.MixinVersionable))
	child, err := parent.AddChild(ctx, "child", "")
	require.NoError(t, err)
	require.NoError(t, child.AddMixin(ctx, store.MixinVersionable))
	require.NoError(t, child.SetProperty(ctx, "v", store.StringValue("one")))

	vm, err := sess.VersionManager()
	require.NoError(t, err)
	version, err := vm.Checkin(ctx, "/parent")
	require.NoError(t, err)

	// the frozen parent holds a stand-in pointing at the child's history
	frozenParent, err := sess.Node(ctx,
		"/"+versionStorageName+"/"+parent.Identifier()+"/"+version.Name+"/"+store.FrozenNodeName)
	require.NoError(t, err)
	standIn, err := frozenParent.Child(ctx, "child")
	require.NoError(t, err)
	has, err := standIn.HasProperty(ctx, store.PropChildVersionHistory)
	require.NoError(t, err)
	assert.True(t, has)

	// and the child's own history gained a version of the same name
	p, err := standIn.Property(ctx, store.PropChildVersionHistory)
	require.NoError(t, err)
	history, err := sess.NodeByIdentifier(ctx, p.Value().Str)
	require.NoError(t, err)
	frozenChildVersion, err := history.Child(ctx, version.Name)
	require.NoError(t, err)
	frozenChild, err := frozenChildVersion.Child(ctx, store.FrozenNodeName)
	require.NoError(t, err)
	fp, err := frozenChild.Property(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, "one", fp.Value().Str)
}

func TestClosedSession(t *testing.T) {
	_, sess := setupSession(t)
	ctx := context.Background()

	root, err := sess.Root(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	_, err = sess.Root(ctx)
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = root.Children(ctx)
	assert.ErrorIs(t, err, store.ErrClosed)
	err = sess.Save(ctx)
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestClockOption(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st := NewWithOptions(Options{Clock: func() time.Time { return fixed }})
	sess, err := st.Session()
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	root, _ := sess.Root(ctx)
	node, err := root.AddChild(ctx, "dated", "")
	require.NoError(t, err)

	p, err := node.Property(ctx, store.PropCreated)
	require.NoError(t, err)
	assert.True(t, p.Value().Time.Equal(fixed))
}
