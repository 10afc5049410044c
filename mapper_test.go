package arbor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/arbormap/arbor/memstore"
	"github.com/arbormap/arbor/store"
)

// Test entities shared across the suite.

type author struct {
	ID   string `arbor:"id"`
	Name string `arbor:"name"`
	Path string `arbor:"path"`
	Bio  string `arbor:"prop=bio"`
}

type comment struct {
	ID   string `arbor:"id"`
	Name string `arbor:"name"`
	Path string `arbor:"path"`
	Body string `arbor:"prop"`
}

type attachment struct {
	File
	ID    string `arbor:"id"`
	Label string `arbor:"prop"`
}

type articleMeta struct {
	Source   string
	Revision int
}

type article struct {
	ID        string             `arbor:"id"`
	Name      string             `arbor:"name"`
	Path      string             `arbor:"path"`
	Title     string             `arbor:"prop=title"`
	Views     int64              `arbor:"prop"`
	Rating    float64            `arbor:"prop"`
	Published bool               `arbor:"prop"`
	PostedAt  time.Time          `arbor:"prop"`
	Summary   *string            `arbor:"prop"`
	Tags      []string           `arbor:"prop"`
	Raw       []byte             `arbor:"prop"`
	Locale    language.Tag       `arbor:"prop"`
	Extra     map[string]string  `arbor:"prop"`
	Counts    map[string][]int64 `arbor:"prop"`
	Meta      articleMeta        `arbor:"serialized"`
	Author    *author            `arbor:"ref"`
	SeeAlso   []*author          `arbor:"ref,weak"`
	Editor    *author            `arbor:"ref,bypath"`
	Comments  []*comment         `arbor:"child=comments"`
	Cover     *attachment        `arbor:"file"`
}

// setupMapper builds a mapper over a fresh in-memory store and hands back
// the open session and root node.
func setupMapper(t *testing.T, opts ...Option) (*Mapper, store.Session, store.Node) {
	t.Helper()

	st := memstore.New()
	sess, err := st.Session()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	root, err := sess.Root(context.Background())
	require.NoError(t, err)
	return New(opts...), sess, root
}

func registerBlog(t *testing.T, m *Mapper) {
	t.Helper()
	for _, e := range []any{&author{}, &comment{}, &attachment{}, &article{}} {
		require.NoError(t, m.Register(e))
	}
}

func TestRoundTrip(t *testing.T) {
	m, sess, root := setupMapper(t)
	registerBlog(t, m)
	ctx := context.Background()

	jane := &author{Name: "jane.doe", Bio: "writes things"}
	_, err := m.Add(ctx, sess, root, jane)
	require.NoError(t, err)
	assert.NotEmpty(t, jane.ID)
	assert.Equal(t, "/jane.doe", jane.Path)

	bob := &author{Name: "bob", Bio: "edits things"}
	_, err = m.Add(ctx, sess, root, bob)
	require.NoError(t, err)

	summary := "a short one"
	posted := time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC)
	modified := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	art := &article{
		Name:      "first post",
		Title:     "First Post",
		Views:     42,
		Rating:    4.5,
		Published: true,
		PostedAt:  posted,
		Summary:   &summary,
		Tags:      []string{"go", "mapping"},
		Raw:       []byte{0x01, 0x02},
		Locale:    language.BritishEnglish,
		Extra:     map[string]string{"series": "intro", "slug": "first"},
		Counts:    map[string][]int64{"daily": {1, 2, 3}},
		Meta:      articleMeta{Source: "import", Revision: 7},
		Author:    jane,
		SeeAlso:   []*author{jane, bob},
		Editor:    bob,
		Comments: []*comment{
			{Name: "c1", Body: "nice"},
			{Name: "c2", Body: "thanks"},
		},
		Cover: &attachment{
			File: File{
				Name:         "cover.png",
				MimeType:     "image/png",
				LastModified: modified,
				Content:      NewBytesProvider([]byte("png-bytes")),
			},
			Label: "front",
		},
	}

	node, err := m.Add(ctx, sess, root, art)
	require.NoError(t, err)
	assert.Equal(t, "first_post", node.Name(), "name is cleaned on write")
	assert.Equal(t, "/first_post", art.Path)
	assert.Equal(t, "first_post", art.Name)

	got, err := Load[*article](ctx, m, sess, node)
	require.NoError(t, err)

	assert.Equal(t, art.ID, got.ID)
	assert.Equal(t, "first_post", got.Name)
	assert.Equal(t, "/first_post", got.Path)
	assert.Equal(t, "First Post", got.Title)
	assert.Equal(t, int64(42), got.Views)
	assert.Equal(t, 4.5, got.Rating)
	assert.True(t, got.Published)
	assert.True(t, got.PostedAt.Equal(posted))
	require.NotNil(t, got.Summary)
	assert.Equal(t, summary, *got.Summary)
	assert.Equal(t, []string{"go", "mapping"}, got.Tags)
	assert.Equal(t, []byte{0x01, 0x02}, got.Raw)
	assert.Equal(t, language.BritishEnglish, got.Locale)
	assert.Equal(t, art.Extra, got.Extra)
	assert.Equal(t, art.Counts, got.Counts)
	assert.Equal(t, articleMeta{Source: "import", Revision: 7}, got.Meta)

	require.NotNil(t, got.Author)
	assert.Equal(t, jane.ID, got.Author.ID)
	assert.Equal(t, "writes things", got.Author.Bio)

	require.Len(t, got.SeeAlso, 2)
	assert.Equal(t, jane.ID, got.SeeAlso[0].ID)
	assert.Equal(t, bob.ID, got.SeeAlso[1].ID)

	require.NotNil(t, got.Editor)
	assert.Equal(t, bob.Path, got.Editor.Path)
	assert.Equal(t, "edits things", got.Editor.Bio)

	require.Len(t, got.Comments, 2)
	assert.Equal(t, "c1", got.Comments[0].Name)
	assert.Equal(t, "nice", got.Comments[0].Body)
	assert.Equal(t, "/first_post/comments/c1", got.Comments[0].Path)

	require.NotNil(t, got.Cover)
	assert.Equal(t, "cover.png", got.Cover.Name)
	assert.Equal(t, "front", got.Cover.Label)
	assert.Equal(t, "image/png", got.Cover.MimeType)
	assert.True(t, got.Cover.LastModified.Equal(modified))
	require.NotNil(t, got.Cover.Content)
	data, err := got.Cover.Content.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestNilAndEmptyProperties(t *testing.T) {
	m, sess, root := setupMapper(t)
	registerBlog(t, m)
	ctx := context.Background()

	summary := "soon gone"
	art := &article{Name: "nils", Title: "t", Summary: &summary, Tags: []string{"x"}}
	node, err := m.Add(ctx, sess, root, art)
	require.NoError(t, err)

	// a nil pointer and a nil slice remove their properties on update
	art.Summary = nil
	art.Tags = nil
	_, err = m.Update(ctx, sess, art)
	require.NoError(t, err)

	has, err := node.HasProperty(ctx, "Summary")
	require.NoError(t, err)
	assert.False(t, has)
	has, err = node.HasProperty(ctx, "Tags")
	require.NoError(t, err)
	assert.False(t, has)

	// an emptied slice removes the property just like a nil one
	art.Tags = []string{"back", "again"}
	_, err = m.Update(ctx, sess, art)
	require.NoError(t, err)
	art.Tags = []string{}
	_, err = m.Update(ctx, sess, art)
	require.NoError(t, err)
	has, err = node.HasProperty(ctx, "Tags")
	require.NoError(t, err)
	assert.False(t, has)

	got, err := Load[*article](ctx, m, sess, node)
	require.NoError(t, err)
	assert.Nil(t, got.Summary)
	assert.Nil(t, got.Tags)
}

func TestReferencedFileContent(t *testing.T) {
	m, sess, root := setupMapper(t)
	ctx := context.Background()

	type handbook struct {
		ID     string      `arbor:"id"`
		Name   string      `arbor:"name"`
		Path   string      `arbor:"path"`
		Manual *attachment `arbor:"ref"`
	}
	require.NoError(t, m.Register(&attachment{}))
	require.NoError(t, m.Register(&handbook{}))

	manual := &attachment{
		File: File{
			Name:     "manual",
			MimeType: "text/html",
			Content:  NewBytesProvider([]byte("<h1>setup</h1>")),
		},
		Label: "setup guide",
	}
	_, err := m.Add(ctx, sess, root, manual)
	require.NoError(t, err)

	node, err := m.Add(ctx, sess, root, &handbook{Name: "starter", Manual: manual})
	require.NoError(t, err)

	got, err := Load[*handbook](ctx, m, sess, node)
	require.NoError(t, err)

	require.NotNil(t, got.Manual)
	assert.Equal(t, manual.ID, got.Manual.ID)
	assert.Equal(t, "setup guide", got.Manual.Label)
	assert.Equal(t, "text/html", got.Manual.MimeType)
	assert.False(t, got.Manual.LastModified.IsZero())
	require.NotNil(t, got.Manual.Content)
	data, err := got.Manual.Content.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("<h1>setup</h1>"), data)
}

func TestUnregisteredType(t *testing.T) {
	m, sess, root := setupMapper(t)
	ctx := context.Background()

	type stranger struct {
		Name string `arbor:"name"`
	}

	_, err := m.Add(ctx, sess, root, &stranger{Name: "s"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRegistered)

	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, KindUnmapped, me.Kind)
}

func TestEmptyNameRejected(t *testing.T) {
	m, sess, root := setupMapper(t)
	registerBlog(t, m)

	_, err := m.Add(context.Background(), sess, root, &author{Bio: "nameless"})
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestProtectedProperty(t *testing.T) {
	m, sess, root := setupMapper(t)
	ctx := context.Background()

	type counted struct {
		Name string `arbor:"name"`
		Hits int64  `arbor:"prop,protected"`
	}
	require.NoError(t, m.Register(&counted{}))

	node, err := m.Add(ctx, sess, root, &counted{Name: "c", Hits: 99})
	require.NoError(t, err)

	has, err := node.HasProperty(ctx, "Hits")
	require.NoError(t, err)
	assert.False(t, has, "protected properties are never written")

	// but they are read when the store carries them
	require.NoError(t, node.SetProperty(ctx, "Hits", store.LongValue(7)))
	got, err := Load[*counted](ctx, m, sess, node)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Hits)
}

func TestConverter(t *testing.T) {
	m, sess, root := setupMapper(t)
	ctx := context.Background()

	type palette struct {
		Name   string  `arbor:"name"`
		Accent rgb     `arbor:"prop,converter=rgb"`
		Shades []rgb   `arbor:"prop,converter=rgb"`
	}
	require.NoError(t, m.Register(&palette{}))
	m.RegisterConverter("rgb", rgbConverter{})

	p := &palette{
		Name:   "warm",
		Accent: rgb{R: 255, G: 128, B: 0},
		Shades: []rgb{{R: 1, G: 2, B: 3}, {R: 4, G: 5, B: 6}},
	}
	node, err := m.Add(ctx, sess, root, p)
	require.NoError(t, err)

	prop, err := node.Property(ctx, "Accent")
	require.NoError(t, err)
	assert.Equal(t, "255:128:0", prop.Value().Str)

	got, err := Load[*palette](ctx, m, sess, node)
	require.NoError(t, err)
	assert.Equal(t, p.Accent, got.Accent)
	assert.Equal(t, p.Shades, got.Shades)

	t.Run("missing converter", func(t *testing.T) {
		type bad struct {
			Name string `arbor:"name"`
			C    rgb    `arbor:"prop,converter=ghost"`
		}
		require.NoError(t, m.Register(&bad{}))
		_, err := m.Add(ctx, sess, root, &bad{Name: "b"})
		assert.ErrorIs(t, err, ErrNoConverter)
	})
}

func TestVersioningMetadata(t *testing.T) {
	m, sess, root := setupMapper(t)
	ctx := context.Background()

	type manuscript struct {
		ID          string    `arbor:"id"`
		Name        string    `arbor:"name"`
		Path        string    `arbor:"path"`
		Body        string    `arbor:"prop"`
		Created     time.Time `arbor:"created"`
		CheckedOut  bool      `arbor:"checkedout"`
		BaseVersion string    `arbor:"baseversion"`
		BaseCreated time.Time `arbor:"baseversioncreated"`
	}
	require.NoError(t, m.Register(&manuscript{},
		WithTypeMixins(store.MixinVersionable)))

	node, err := m.Add(ctx, sess, root, &manuscript{Name: "draft", Body: "v1"})
	require.NoError(t, err)

	has, err := node.HasMixin(ctx, store.MixinVersionable)
	require.NoError(t, err)
	require.True(t, has)

	got, err := Load[*manuscript](ctx, m, sess, node)
	require.NoError(t, err)
	assert.False(t, got.Created.IsZero())
	assert.True(t, got.CheckedOut)
	assert.Equal(t, store.RootVersionName, got.BaseVersion)

	vm, err := sess.VersionManager()
	require.NoError(t, err)
	v, err := vm.Checkin(ctx, node.Path())
	require.NoError(t, err)

	got, err = Load[*manuscript](ctx, m, sess, node)
	require.NoError(t, err)
	assert.False(t, got.CheckedOut)
	assert.Equal(t, v.Name, got.BaseVersion)
	assert.False(t, got.BaseCreated.IsZero())
}

// rgb is a converter-mapped application type.
type rgb struct {
	R, G, B uint8
}

type rgbConverter struct{}

func (rgbConverter) ToProperty(v any) (any, error) {
	c := v.(rgb)
	return fmt.Sprintf("%d:%d:%d", c.R, c.G, c.B), nil
}

func (rgbConverter) FromProperty(v any) (any, error) {
	var c rgb
	if _, err := fmt.Sscanf(v.(string), "%d:%d:%d", &c.R, &c.G, &c.B); err != nil {
		return nil, err
	}
	return c, nil
}
