package arbor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Sentinel errors for common mapping failures. All of them can be matched
// with errors.Is() through the *Error wrapper.
var (
	// ErrNotRegistered indicates an operation was invoked for a type that
	// was never registered with the mapper, or that dynamic class
	// resolution produced such a type.
	ErrNotRegistered = errors.New("type not registered")

	// ErrNilEntity indicates a nil entity was passed to a mapping
	// operation.
	ErrNilEntity = errors.New("entity is nil")

	// ErrEmptyName indicates an entity reached a write operation with an
	// empty name field.
	ErrEmptyName = errors.New("entity name is empty")

	// ErrUnsupportedType indicates a field type outside the mappable set
	// for its declared kind.
	ErrUnsupportedType = errors.New("unsupported field type")

	// ErrNoLoader indicates a lazy placeholder was accessed before the
	// mapper attached a loader and without an explicit value.
	ErrNoLoader = errors.New("lazy placeholder has no loader")

	// ErrNoConverter indicates a field names a converter that was never
	// registered on the mapper.
	ErrNoConverter = errors.New("converter not registered")
)

// Error kinds categorize mapping errors.
const (
	// KindConfiguration marks registration and validation failures. They
	// surface before any store mutation is attempted.
	KindConfiguration = "configuration"

	// KindUnmapped marks use-time failures for unregistered types,
	// including failed dynamic class resolution.
	KindUnmapped = "unmapped"

	// KindStore marks failures surfaced by the backing store, with the
	// original cause chained.
	KindStore = "store"

	// KindConversion marks value conversion failures between field values
	// and store scalars.
	KindConversion = "conversion"
)

// Error is the single error family raised by the mapping engine. Every
// failure, whether a configuration problem or a wrapped store fault, is
// reported through this type so callers can branch on Kind while still
// reaching the original cause via errors.Is/As.
//
// Example:
//
//	_, err := mapper.Add(ctx, sess, parent, entity)
//	var me *arbor.Error
//	if errors.As(err, &me) && me.Kind == arbor.KindStore {
//		// store-level fault, original cause in me.Err
//	}
type Error struct {
	// Op is the operation that failed (e.g. "Mapper.Add", "Lazy.Get").
	Op string

	// Kind categorizes the error (KindConfiguration, KindUnmapped,
	// KindStore, KindConversion).
	Kind string

	// Path is the node path the failure relates to, when known.
	Path string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Err == nil && e.Path == "":
		return fmt.Sprintf("arbor: %s: %s", e.Op, e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("arbor: %s (%s) at %s", e.Op, e.Kind, e.Path)
	case e.Path == "":
		return fmt.Sprintf("arbor: %s (%s): %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("arbor: %s (%s) at %s: %v", e.Op, e.Kind, e.Path, e.Err)
	}
}

// Unwrap returns the underlying cause, making the wrapper transparent to
// errors.Is() and errors.As().
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind (and Op, when the target sets one), or
// delegates to the underlying cause.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}
	return errors.Is(e.Err, target)
}

// WithPath returns a copy of the error annotated with a node path.
func (e *Error) WithPath(path string) *Error {
	dup := *e
	dup.Path = path
	return &dup
}

// NewConfigurationError creates an *Error with KindConfiguration.
func NewConfigurationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindConfiguration, Err: err}
}

// NewUnmappedError creates an *Error with KindUnmapped.
func NewUnmappedError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindUnmapped, Err: err}
}

// NewStoreError creates an *Error with KindStore wrapping a store fault.
func NewStoreError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindStore, Err: err}
}

// NewConversionError creates an *Error with KindConversion.
func NewConversionError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindConversion, Err: err}
}

// CloseWithLog closes the resource and logs any error at warning level.
// Intended for defer statements so cleanup failures are not silently
// dropped. If logger is nil, slog.Default() is used.
//
// Example:
//
//	defer arbor.CloseWithLog(reader, logger, "file payload stream")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
