package arbor

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/arbormap/arbor/store"
)

// fieldKind tags what a struct field means to the mapper.
type fieldKind int

const (
	kindIgnored fieldKind = iota
	kindID
	kindName
	kindPath
	kindParent
	kindProperty
	kindSerialized
	kindReference
	kindChild
	kindFile
	kindCreated
	kindCheckedOut
	kindBaseVersionName
	kindBaseVersionCreated
	kindVersionName
	kindVersionCreated
)

var fieldKinds = map[string]fieldKind{
	"id":                 kindID,
	"name":               kindName,
	"path":               kindPath,
	"parent":             kindParent,
	"prop":               kindProperty,
	"serialized":         kindSerialized,
	"ref":                kindReference,
	"child":              kindChild,
	"file":               kindFile,
	"created":            kindCreated,
	"checkedout":         kindCheckedOut,
	"baseversion":        kindBaseVersionName,
	"baseversioncreated": kindBaseVersionCreated,
	"versionname":        kindVersionName,
	"versioncreated":     kindVersionCreated,
}

// containerKind tags the collection shape of a field.
type containerKind int

const (
	containerSingle containerKind = iota
	containerSlice
	containerMap
	containerMapOfSlice
)

// fieldDesc is the compiled description of one mapped struct field. Built
// once at registration, used on every operation.
type fieldDesc struct {
	// name is the store-side name: property name, child node name or
	// container name. Defaults to the Go field name.
	name string

	// index locates the field, including promotion through embedded
	// structs.
	index []int

	kind      fieldKind
	container containerKind

	// fieldType is the declared Go type of the field.
	fieldType reflect.Type

	// elem is the element type: the scalar type for properties (slice
	// element or map value), the entity type (*T or interface) for
	// references, children and files. For single fields elem is the field
	// type itself, unwrapped from Lazy and pointer-to-scalar shapes.
	elem reflect.Type

	// lazy marks Lazy[...]-shaped fields (including map values).
	lazy bool

	// lazyType is the placeholder type to instantiate for lazy map values.
	lazyType reflect.Type

	byPath    bool
	weak      bool
	protected bool
	converter string
	loadBytes bool

	// scalarPtr marks *T scalar properties, where nil means "remove".
	scalarPtr bool
}

// typeDesc is the compiled description of one entity type: its ordered field
// descriptors plus direct handles on the structural fields.
type typeDesc struct {
	typ  reflect.Type // the struct type, without pointer
	name string       // qualified type name used as discriminator value

	fields []*fieldDesc

	idField     *fieldDesc
	nameField   *fieldDesc
	pathField   *fieldDesc
	parentField *fieldDesc

	// isFile marks types embedding File.
	isFile bool

	// cfg carries registration options (node type, mixins, discriminator).
	cfg typeConfig
}

func (d *typeDesc) nodeType() string {
	if d.cfg.nodeType != "" {
		return d.cfg.nodeType
	}
	if d.isFile {
		return store.TypeFile
	}
	return store.TypeUnstructured
}

// discriminatorProperty returns the property name consulted when resolving
// the stored type, defaulting to "className".
func (d *typeDesc) discriminatorProperty() string {
	if d.cfg.discriminator != "" {
		return d.cfg.discriminator
	}
	return DefaultDiscriminator
}

// stampsDiscriminator reports whether nodes of this type get the
// discriminator written at add/update time.
func (d *typeDesc) stampsDiscriminator() bool {
	return d.cfg.discriminator != ""
}

// field returns the addressable field value inside obj, which must be a
// pointer to a struct of this type.
func (d *typeDesc) field(obj reflect.Value, f *fieldDesc) reflect.Value {
	return obj.Elem().FieldByIndex(f.index)
}

func (d *typeDesc) entityName(obj reflect.Value) string {
	if d.nameField == nil {
		return ""
	}
	return d.field(obj, d.nameField).String()
}

func (d *typeDesc) setEntityName(obj reflect.Value, name string) {
	if d.nameField != nil {
		d.field(obj, d.nameField).SetString(name)
	}
}

func (d *typeDesc) entityPath(obj reflect.Value) string {
	if d.pathField == nil {
		return ""
	}
	return d.field(obj, d.pathField).String()
}

func (d *typeDesc) setEntityPath(obj reflect.Value, path string) {
	if d.pathField != nil {
		d.field(obj, d.pathField).SetString(path)
	}
}

func (d *typeDesc) entityID(obj reflect.Value) string {
	if d.idField == nil {
		return ""
	}
	return d.field(obj, d.idField).String()
}

func (d *typeDesc) setEntityID(obj reflect.Value, id string) {
	if d.idField != nil {
		d.field(obj, d.idField).SetString(id)
	}
}

// qualifiedName is the type identity stored in discriminator properties.
func qualifiedName(t reflect.Type) string {
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// compileType builds the descriptor for a struct type. Tag errors surface
// here, before any store access.
func compileType(t reflect.Type) (*typeDesc, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a struct: %w", t, ErrUnsupportedType)
	}
	d := &typeDesc{
		typ:    t,
		name:   qualifiedName(t),
		isFile: reflect.PointerTo(t).Implements(fileEntityType),
	}
	if err := d.collectFields(t, nil); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *typeDesc) collectFields(t reflect.Type, prefix []int) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		index := append(append([]int(nil), prefix...), i)
		tag, hasTag := sf.Tag.Lookup("arbor")

		if !sf.IsExported() {
			continue
		}
		if !hasTag || tag == "" {
			// untagged embedded structs contribute their fields, like
			// inherited fields would
			if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
				if err := d.collectFields(sf.Type, index); err != nil {
					return err
				}
			}
			continue
		}
		if tag == "-" {
			continue
		}

		fd, err := compileField(sf, index, tag)
		if err != nil {
			return fmt.Errorf("field %s.%s: %w", t.Name(), sf.Name, err)
		}

		switch fd.kind {
		case kindID:
			if d.idField != nil {
				return fmt.Errorf("field %s.%s: duplicate id field", t.Name(), sf.Name)
			}
			d.idField = fd
		case kindName:
			if d.nameField != nil {
				return fmt.Errorf("field %s.%s: duplicate name field", t.Name(), sf.Name)
			}
			d.nameField = fd
		case kindPath:
			if d.pathField != nil {
				return fmt.Errorf("field %s.%s: duplicate path field", t.Name(), sf.Name)
			}
			d.pathField = fd
		case kindParent:
			if d.parentField != nil {
				return fmt.Errorf("field %s.%s: duplicate parent field", t.Name(), sf.Name)
			}
			d.parentField = fd
		}
		d.fields = append(d.fields, fd)
	}
	return nil
}

func compileField(sf reflect.StructField, index []int, tag string) (*fieldDesc, error) {
	parts := strings.Split(tag, ",")
	head := parts[0]
	name := sf.Name
	if i := strings.IndexByte(head, '='); i >= 0 {
		name = head[i+1:]
		head = head[:i]
	}
	kind, ok := fieldKinds[head]
	if !ok {
		return nil, fmt.Errorf("unknown field kind %q", head)
	}
	if name == "" {
		return nil, fmt.Errorf("empty %s name", head)
	}

	fd := &fieldDesc{
		name:      name,
		index:     index,
		kind:      kind,
		fieldType: sf.Type,
		elem:      sf.Type,
	}

	for _, opt := range parts[1:] {
		key, value := opt, ""
		if i := strings.IndexByte(opt, '='); i >= 0 {
			key, value = opt[:i], opt[i+1:]
		}
		switch key {
		case "byid":
			// default reference mode
		case "bypath":
			fd.byPath = true
		case "weak":
			fd.weak = true
		case "protected":
			fd.protected = true
		case "converter":
			if value == "" {
				return nil, fmt.Errorf("converter option needs a name")
			}
			fd.converter = value
		case "loadtype":
			switch value {
			case "bytes":
				fd.loadBytes = true
			case "stream", "":
			default:
				return nil, fmt.Errorf("unknown loadtype %q", value)
			}
		default:
			return nil, fmt.Errorf("unknown tag option %q", key)
		}
	}

	var err error
	switch kind {
	case kindProperty:
		err = fd.analyzePropertyShape()
	case kindSerialized:
		// any gob-encodable type, stored opaquely
	case kindReference, kindChild, kindFile:
		err = fd.analyzeEntityShape()
	}
	if err != nil {
		return nil, err
	}
	return fd, nil
}

// analyzePropertyShape classifies a property field into single, slice, map
// or map-of-slice of scalars. With a converter the element type is left to
// the converter.
func (fd *fieldDesc) analyzePropertyShape() error {
	t := fd.fieldType
	if t.Kind() == reflect.Pointer {
		fd.scalarPtr = true
		t = t.Elem()
		fd.elem = t
		return fd.checkScalarElem(t)
	}
	if isScalarType(t) || t == anyType {
		fd.elem = t
		return fd.checkScalarElem(t)
	}
	switch t.Kind() {
	case reflect.Slice:
		fd.container = containerSlice
		fd.elem = t.Elem()
		return fd.checkScalarElem(fd.elem)
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return fmt.Errorf("property map keys must be strings: %w", ErrUnsupportedType)
		}
		v := t.Elem()
		if v.Kind() == reflect.Slice && v != byteSliceType {
			fd.container = containerMapOfSlice
			fd.elem = v.Elem()
		} else {
			fd.container = containerMap
			fd.elem = v
		}
		return fd.checkScalarElem(fd.elem)
	}
	fd.elem = t
	return fd.checkScalarElem(t)
}

func (fd *fieldDesc) checkScalarElem(t reflect.Type) error {
	if fd.converter != "" || isScalarType(t) || t == anyType {
		return nil
	}
	return fmt.Errorf("%s is not a mappable scalar: %w", t, ErrUnsupportedType)
}

// analyzeEntityShape classifies a reference, child or file field into
// single, slice, map or map-of-slice of entities, unwrapping Lazy
// placeholders.
func (fd *fieldDesc) analyzeEntityShape() error {
	t := fd.fieldType

	if elem, ok := isLazyType(t); ok {
		if t.Kind() == reflect.Pointer {
			return fmt.Errorf("lazy fields must be declared by value, use %s: %w", t.Elem(), ErrUnsupportedType)
		}
		fd.lazy = true
		fd.lazyType = t
		if elem.Kind() == reflect.Slice {
			fd.container = containerSlice
			fd.elem = elem.Elem()
		} else {
			fd.elem = elem
		}
		return fd.checkEntityElem()
	}

	switch t.Kind() {
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return fmt.Errorf("map keys must be strings: %w", ErrUnsupportedType)
		}
		v := t.Elem()
		if elem, ok := isLazyType(v); ok {
			if v.Kind() != reflect.Pointer {
				return fmt.Errorf("lazy map values must be *Lazy so resolution is shared: %w", ErrUnsupportedType)
			}
			fd.lazy = true
			fd.lazyType = v
			if elem.Kind() == reflect.Slice {
				fd.container = containerMapOfSlice
				fd.elem = elem.Elem()
			} else {
				fd.container = containerMap
				fd.elem = elem
			}
			return fd.checkEntityElem()
		}
		if v.Kind() == reflect.Slice {
			fd.container = containerMapOfSlice
			fd.elem = v.Elem()
		} else {
			fd.container = containerMap
			fd.elem = v
		}
		return fd.checkEntityElem()
	case reflect.Slice:
		fd.container = containerSlice
		fd.elem = t.Elem()
		return fd.checkEntityElem()
	}
	fd.elem = t
	return fd.checkEntityElem()
}

func (fd *fieldDesc) checkEntityElem() error {
	t := fd.elem
	switch {
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
	case t.Kind() == reflect.Interface:
	default:
		return fmt.Errorf("%s is not a struct pointer or interface: %w", t, ErrUnsupportedType)
	}
	if fd.kind == kindFile && t.Kind() == reflect.Pointer && !t.Implements(fileEntityType) {
		return fmt.Errorf("%s does not embed File: %w", t, ErrUnsupportedType)
	}
	return nil
}
