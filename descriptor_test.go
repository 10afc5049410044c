package arbor

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterValidation(t *testing.T) {
	m := New()

	t.Run("valid type", func(t *testing.T) {
		type ok struct {
			ID       string            `arbor:"id"`
			Name     string            `arbor:"name"`
			Path     string            `arbor:"path"`
			Title    string            `arbor:"prop=title"`
			Skipped  string            `arbor:"-"`
			Ignored  string
			Tags     []string          `arbor:"prop"`
			Meta     map[string]string `arbor:"prop"`
			Children []*ok             `arbor:"child"`
		}
		require.NoError(t, m.Register(&ok{}))
		assert.True(t, m.IsMapped(&ok{}))
		assert.True(t, m.IsMapped(ok{}), "value and pointer map alike")
	})

	t.Run("not a struct", func(t *testing.T) {
		err := m.Register("nope")
		require.Error(t, err)
		assert.ErrorIs(t, err, &Error{Kind: KindConfiguration})
	})

	t.Run("nil entity", func(t *testing.T) {
		assert.ErrorIs(t, m.Register(nil), ErrNilEntity)
	})

	t.Run("missing name field", func(t *testing.T) {
		type noName struct {
			Title string `arbor:"prop"`
		}
		assert.ErrorIs(t, m.Register(&noName{}), ErrUnsupportedType)
	})

	t.Run("unknown kind", func(t *testing.T) {
		type badKind struct {
			Name string `arbor:"name"`
			X    string `arbor:"wibble"`
		}
		assert.Error(t, m.Register(&badKind{}))
	})

	t.Run("duplicate structural field", func(t *testing.T) {
		type twoNames struct {
			A string `arbor:"name"`
			B string `arbor:"name"`
		}
		assert.Error(t, m.Register(&twoNames{}))
	})

	t.Run("colliding store names", func(t *testing.T) {
		type collision struct {
			Name string `arbor:"name"`
			A    string `arbor:"prop=same"`
			B    int64  `arbor:"prop=same"`
		}
		assert.ErrorIs(t, m.Register(&collision{}), ErrUnsupportedType)
	})

	t.Run("properties and children are separate namespaces", func(t *testing.T) {
		type twoSpaces struct {
			Name  string     `arbor:"name"`
			Same  string     `arbor:"prop=thing"`
			Child []*comment `arbor:"child=thing"`
		}
		assert.NoError(t, m.Register(&twoSpaces{}))
	})

	t.Run("option on wrong kind", func(t *testing.T) {
		type badOpt struct {
			Name string `arbor:"name"`
			X    string `arbor:"prop,weak"`
		}
		assert.ErrorIs(t, m.Register(&badOpt{}), ErrUnsupportedType)
	})

	t.Run("unmappable property type", func(t *testing.T) {
		type badProp struct {
			Name string        `arbor:"name"`
			C    chan int      `arbor:"prop"`
		}
		assert.ErrorIs(t, m.Register(&badProp{}), ErrUnsupportedType)
	})

	t.Run("converter rescues a custom type", func(t *testing.T) {
		type withConv struct {
			Name string `arbor:"name"`
			C    rgb    `arbor:"prop,converter=rgb"`
		}
		assert.NoError(t, m.Register(&withConv{}))
	})

	t.Run("wrong structural types", func(t *testing.T) {
		type badID struct {
			Name string `arbor:"name"`
			ID   int    `arbor:"id"`
		}
		assert.ErrorIs(t, m.Register(&badID{}), ErrUnsupportedType)

		type badCreated struct {
			Name    string `arbor:"name"`
			Created string `arbor:"created"`
		}
		assert.ErrorIs(t, m.Register(&badCreated{}), ErrUnsupportedType)
	})

	t.Run("lazy pointer field rejected", func(t *testing.T) {
		type badLazy struct {
			Name string          `arbor:"name"`
			C    *Lazy[*comment] `arbor:"child"`
		}
		assert.ErrorIs(t, m.Register(&badLazy{}), ErrUnsupportedType)
	})

	t.Run("lazy map value must be a pointer", func(t *testing.T) {
		type badLazyMap struct {
			Name string                    `arbor:"name"`
			C    map[string]Lazy[*comment] `arbor:"child"`
		}
		assert.ErrorIs(t, m.Register(&badLazyMap{}), ErrUnsupportedType)
	})

	t.Run("file entity must embed File", func(t *testing.T) {
		type notAFile struct {
			Name string `arbor:"name"`
		}
		type holder struct {
			Name string    `arbor:"name"`
			F    *notAFile `arbor:"file"`
		}
		assert.ErrorIs(t, m.Register(&holder{}), ErrUnsupportedType)
	})
}

func TestRegisterOptions(t *testing.T) {
	type widget struct {
		Name string `arbor:"name"`
	}

	m := New()
	require.NoError(t, m.Register(&widget{},
		WithNodeType("app:widget"),
		WithTypeMixins("mix:custom"),
		WithDiscriminator("kind")))

	d, err := m.descriptor(structTypeMust(&widget{}))
	require.NoError(t, err)
	assert.Equal(t, "app:widget", d.nodeType())
	assert.Equal(t, []string{"mix:custom"}, d.cfg.mixins)
	assert.Equal(t, "kind", d.discriminatorProperty())
	assert.True(t, d.stampsDiscriminator())
}

func TestEmbeddedFieldsPromoted(t *testing.T) {
	type base struct {
		ID   string `arbor:"id"`
		Name string `arbor:"name"`
		Path string `arbor:"path"`
	}
	type derived struct {
		base
		Extra    string    `arbor:"prop"`
		Modified time.Time `arbor:"prop"`
	}

	m := New()
	require.NoError(t, m.Register(&derived{}))

	d, err := m.descriptor(structTypeMust(&derived{}))
	require.NoError(t, err)
	assert.NotNil(t, d.idField)
	assert.NotNil(t, d.nameField)
	assert.NotNil(t, d.pathField)

	obj := &derived{}
	d.setEntityName(reflect.ValueOf(obj), "promoted")
	assert.Equal(t, "promoted", obj.Name)
}

func structTypeMust(entity any) reflect.Type {
	t, err := structTypeOf(entity)
	if err != nil {
		panic(err)
	}
	return t
}
