package arbor

import (
	"fmt"
	"reflect"
)

// validateType checks a compiled descriptor for mistakes that tag parsing
// alone cannot see: missing structural fields, wrong Go types behind
// structural tags, and options applied to field kinds they do not belong
// to. Called once at registration so operations never trip over a bad
// mapping mid-flight.
func validateType(d *typeDesc) error {
	if d.nameField == nil {
		return fmt.Errorf("type %s: no name field: %w", d.typ, ErrUnsupportedType)
	}

	seenProps := make(map[string]string)
	seenChildren := make(map[string]string)

	for _, fd := range d.fields {
		if err := validateField(d, fd); err != nil {
			return err
		}

		// property names and child node names are separate namespaces on
		// a node, but duplicates within one namespace shadow each other
		var ns map[string]string
		switch fd.kind {
		case kindProperty, kindSerialized:
			ns = seenProps
		case kindReference:
			if fd.container == containerMap || fd.container == containerMapOfSlice {
				ns = seenChildren
			} else {
				ns = seenProps
			}
		case kindChild, kindFile:
			ns = seenChildren
		}
		if ns != nil {
			if prev, ok := ns[fd.name]; ok {
				return fmt.Errorf("type %s: fields %s and %s both map to %q: %w",
					d.typ, prev, fieldName(d.typ, fd), fd.name, ErrUnsupportedType)
			}
			ns[fd.name] = fieldName(d.typ, fd)
		}
	}
	return nil
}

func validateField(d *typeDesc, fd *fieldDesc) error {
	bad := func(format string, args ...any) error {
		msg := fmt.Sprintf(format, args...)
		return fmt.Errorf("field %s: %s: %w", fieldName(d.typ, fd), msg, ErrUnsupportedType)
	}

	// options are kind-specific
	if fd.protected && fd.kind != kindProperty {
		return bad("protected applies to properties only")
	}
	if fd.converter != "" && fd.kind != kindProperty {
		return bad("converter applies to properties only")
	}
	if (fd.byPath || fd.weak) && fd.kind != kindReference {
		return bad("byid, bypath and weak apply to references only")
	}
	if fd.loadBytes && fd.kind != kindFile {
		return bad("loadtype applies to file fields only")
	}
	if fd.lazy && fd.kind != kindReference && fd.kind != kindChild && fd.kind != kindFile {
		return bad("Lazy wraps references, children and files only")
	}

	switch fd.kind {
	case kindID, kindName, kindPath, kindBaseVersionName, kindVersionName:
		if fd.fieldType.Kind() != reflect.String {
			return bad("%s fields must be strings", tagName(fd.kind))
		}
	case kindCreated, kindBaseVersionCreated, kindVersionCreated:
		if fd.fieldType != timeType {
			return bad("%s fields must be time.Time", tagName(fd.kind))
		}
	case kindCheckedOut:
		if fd.fieldType.Kind() != reflect.Bool {
			return bad("checkedout fields must be bools")
		}
	case kindParent:
		k := fd.fieldType.Kind()
		if k != reflect.Interface && !(k == reflect.Pointer && fd.fieldType.Elem().Kind() == reflect.Struct) {
			return bad("parent fields must be struct pointers or interfaces")
		}
	case kindSerialized:
		switch fd.fieldType.Kind() {
		case reflect.Chan, reflect.Func, reflect.UnsafePointer:
			return bad("%s cannot be serialized", fd.fieldType)
		}
	}
	return nil
}

func fieldName(t reflect.Type, fd *fieldDesc) string {
	return t.Name() + "." + t.FieldByIndex(fd.index).Name
}

func tagName(k fieldKind) string {
	for name, kind := range fieldKinds {
		if kind == k {
			return name
		}
	}
	return "?"
}
