package arbor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbormap/arbor/store"
)

// Mapper translates registered entity types to and from store nodes. It is
// created once, configured with Options, and shared: registration is safe
// under concurrent use, while individual operations follow the
// one-session-per-goroutine model of the store layer.
//
// Example:
//
//	mapper := arbor.New()
//	if err := mapper.Register(&Post{}); err != nil {
//		log.Fatal(err)
//	}
//
//	node, err := mapper.Add(ctx, sess, root, &Post{Name: "hello-world", Title: "Hello"})
type Mapper struct {
	cfg mapperConfig

	mu         sync.RWMutex
	mapped     map[reflect.Type]*typeDesc
	mappedName map[string]*typeDesc
	known      map[string]reflect.Type
	converters map[string]Converter
}

// New creates a Mapper with the given options.
func New(opts ...Option) *Mapper {
	cfg := defaultMapperConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Mapper{
		cfg:        cfg,
		mapped:     make(map[reflect.Type]*typeDesc),
		mappedName: make(map[string]*typeDesc),
		known:      make(map[string]reflect.Type),
		converters: make(map[string]Converter),
	}
}

// Register makes an entity type known to the mapper. entity is a value or
// pointer of the struct type to register; its arbor tags are compiled into
// field descriptors and validated here, so a bad mapping fails at startup
// rather than mid-operation. Registering the same type again replaces its
// per-type options.
func (m *Mapper) Register(entity any, opts ...RegisterOption) error {
	t, err := structTypeOf(entity)
	if err != nil {
		return NewConfigurationError("Mapper.Register", err)
	}
	d, err := compileType(t)
	if err != nil {
		return NewConfigurationError("Mapper.Register", err)
	}
	for _, opt := range opts {
		opt(&d.cfg)
	}
	if err := validateType(d); err != nil {
		return NewConfigurationError("Mapper.Register", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapped[t] = d
	m.mappedName[d.name] = d
	m.known[d.name] = t
	return nil
}

// MustRegister is Register for static setup code; it panics on error.
func (m *Mapper) MustRegister(entity any, opts ...RegisterOption) {
	if err := m.Register(entity, opts...); err != nil {
		panic(err)
	}
}

// RegisterName adds a type to the known-but-unmapped pool under the given
// name (the type's qualified name when name is empty). Dynamic resolution
// distinguishes a discriminator naming a known type, which is an error,
// from one naming nothing, which falls back to the requested type.
func (m *Mapper) RegisterName(name string, entity any) {
	t, err := structTypeOf(entity)
	if err != nil {
		return
	}
	if name == "" {
		name = qualifiedName(t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, mapped := m.mapped[t]; !mapped {
		m.known[name] = t
	}
}

// IsMapped reports whether the entity's type is registered.
func (m *Mapper) IsMapped(entity any) bool {
	t, err := structTypeOf(entity)
	if err != nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.mapped[t]
	return ok
}

// RegisterConverter makes a named Converter available to fields tagged with
// `converter=<name>`.
func (m *Mapper) RegisterConverter(name string, c Converter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.converters[name] = c
}

// CleanName sanitizes a node name the way the mapper does on writes. With
// WithRawNames it returns the input unchanged.
func (m *Mapper) CleanName(name string) string {
	return m.cleanName(name)
}

// Add writes entity as a new child node of parent and returns it. The
// entity's id, name and path fields are filled in from the created node,
// and the whole entity graph below it is written along.
func (m *Mapper) Add(ctx context.Context, sess store.Session, parent store.Node, entity any, opts ...OpOption) (store.Node, error) {
	const op = "Mapper.Add"
	obj, d, err := m.entityValue(op, entity)
	if err != nil {
		return nil, err
	}
	ctx, span := m.startSpan(ctx, op, parent.Path(), d)
	defer span.End()

	cfg := newOpConfig(opts)
	c := m.newOpCtx(sess, cfg)
	defer c.clear()

	node, err := c.addEntityNode(ctx, parent, obj, d, cfg.mixins, true)
	if err != nil {
		return nil, m.opError(span, op, parent.Path(), err)
	}
	return node, nil
}

// EntityPath returns the stored path carried by the entity's path field.
// Empty until the entity has been added or loaded.
func (m *Mapper) EntityPath(entity any) (string, error) {
	obj, d, err := m.entityValue("Mapper.EntityPath", entity)
	if err != nil {
		return "", err
	}
	return d.entityPath(obj), nil
}

// EntityName returns the raw value of the entity's name field, before any
// node-name cleaning.
func (m *Mapper) EntityName(entity any) (string, error) {
	obj, d, err := m.entityValue("Mapper.EntityName", entity)
	if err != nil {
		return "", err
	}
	return d.entityName(obj), nil
}

// Update locates the entity's backing node by its path field and
// synchronizes it with the entity's current state.
func (m *Mapper) Update(ctx context.Context, sess store.Session, entity any, opts ...OpOption) (store.Node, error) {
	const op = "Mapper.Update"
	obj, d, err := m.entityValue(op, entity)
	if err != nil {
		return nil, err
	}
	path := d.entityPath(obj)
	if path == "" {
		return nil, NewUnmappedError(op, fmt.Errorf("entity %s has no path; was it added?", d.typ))
	}
	node, err := sess.Node(ctx, path)
	if err != nil {
		return nil, NewStoreError(op, err).WithPath(path)
	}
	return m.UpdateNode(ctx, sess, node, entity, opts...)
}

// UpdateNode synchronizes node with the entity's current state:
// diff-and-patch on properties, references, children and files, and a move
// when the entity's name no longer matches the node name.
func (m *Mapper) UpdateNode(ctx context.Context, sess store.Session, node store.Node, entity any, opts ...OpOption) (store.Node, error) {
	const op = "Mapper.UpdateNode"
	obj, d, err := m.entityValue(op, entity)
	if err != nil {
		return nil, err
	}
	ctx, span := m.startSpan(ctx, op, node.Path(), d)
	defer span.End()

	c := m.newOpCtx(sess, newOpConfig(opts))
	defer c.clear()

	updated, err := c.updateEntityNode(ctx, node, obj, d, 0)
	if err != nil {
		return nil, m.opError(span, op, node.Path(), err)
	}
	return updated, nil
}

// FromNode maps node into a fresh instance of the target type. target
// carries the type only; a typed nil pointer does fine. With dynamic
// instantiation enabled the stored discriminator may select a registered
// subtype instead.
//
// Example:
//
//	got, err := mapper.FromNode(ctx, sess, node, (*Post)(nil))
//	if err != nil {
//		return err
//	}
//	post := got.(*Post)
func (m *Mapper) FromNode(ctx context.Context, sess store.Session, node store.Node, target any, opts ...OpOption) (any, error) {
	return m.fromNode(ctx, "Mapper.FromNode", sess, node, target, false, opts)
}

// FromNodeWithParent is FromNode plus parent discovery: the nearest
// ancestor node resolving to a registered type is mapped shallowly and
// assigned to the entity's parent field. Ancestors resolve through their
// discriminator, so this needs dynamic instantiation.
func (m *Mapper) FromNodeWithParent(ctx context.Context, sess store.Session, node store.Node, target any, opts ...OpOption) (any, error) {
	return m.fromNode(ctx, "Mapper.FromNodeWithParent", sess, node, target, true, opts)
}

func (m *Mapper) fromNode(ctx context.Context, op string, sess store.Session, node store.Node, target any, withParent bool, opts []OpOption) (any, error) {
	static, err := m.targetType(op, target)
	if err != nil {
		return nil, err
	}
	d, derr := m.descriptor(static.Elem())
	ctx, span := m.startSpan(ctx, op, node.Path(), d)
	defer span.End()
	if derr != nil {
		return nil, m.opError(span, op, node.Path(), derr)
	}

	c := m.newOpCtx(sess, newOpConfig(opts))
	defer c.clear()

	obj, err := c.readEntity(ctx, node, static)
	if err != nil {
		return nil, m.opError(span, op, node.Path(), err)
	}
	if withParent {
		od, err := m.descriptorForValue(obj)
		if err == nil {
			err = c.mapParent(ctx, obj, od, node)
		}
		if err != nil {
			return nil, m.opError(span, op, node.Path(), err)
		}
	}
	return obj.Interface(), nil
}

// Load is a typed wrapper over FromNode.
//
//	post, err := arbor.Load[*Post](ctx, mapper, sess, node)
func Load[T any](ctx context.Context, m *Mapper, sess store.Session, node store.Node, opts ...OpOption) (T, error) {
	var zero T
	got, err := m.FromNode(ctx, sess, node, zero, opts...)
	if err != nil {
		return zero, err
	}
	out, ok := got.(T)
	if !ok {
		return zero, NewUnmappedError("Load", fmt.Errorf("node mapped to %T, want %T", got, zero))
	}
	return out, nil
}

// entityValue checks entity is a non-nil pointer to a registered struct and
// returns its reflect value and descriptor.
func (m *Mapper) entityValue(op string, entity any) (reflect.Value, *typeDesc, error) {
	if entity == nil {
		return reflect.Value{}, nil, NewUnmappedError(op, ErrNilEntity)
	}
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, nil, NewUnmappedError(op, fmt.Errorf("entity must be a non-nil struct pointer, got %T: %w", entity, ErrNilEntity))
	}
	d, err := m.descriptor(v.Elem().Type())
	if err != nil {
		return reflect.Value{}, nil, m.opError(noopSpan{}, op, "", err)
	}
	return v, d, nil
}

// targetType derives the *T pointer type a FromNode call should produce.
func (m *Mapper) targetType(op string, target any) (reflect.Type, error) {
	var t reflect.Type
	switch v := target.(type) {
	case nil:
		return nil, NewUnmappedError(op, fmt.Errorf("target type is nil: %w", ErrNilEntity))
	case reflect.Type:
		t = v
	default:
		t = reflect.TypeOf(target)
	}
	switch {
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		return t, nil
	case t.Kind() == reflect.Struct:
		return reflect.PointerTo(t), nil
	}
	return nil, NewUnmappedError(op, fmt.Errorf("target must name a struct type, got %s: %w", t, ErrUnsupportedType))
}

// opError wraps an engine failure into the single *Error family, keyed by
// kind, and records it on the span.
func (m *Mapper) opError(span interface{ RecordError(error, ...trace.EventOption) }, op, path string, err error) error {
	if err == nil {
		return nil
	}
	var wrapped *Error
	if !errors.As(err, &wrapped) {
		switch {
		case errors.Is(err, ErrNotRegistered) || errors.Is(err, ErrNilEntity):
			wrapped = NewUnmappedError(op, err)
		case errors.Is(err, ErrUnsupportedType) || errors.Is(err, ErrEmptyName) || errors.Is(err, ErrNoConverter):
			wrapped = NewConfigurationError(op, err)
		default:
			wrapped = NewStoreError(op, err)
		}
		if path != "" {
			wrapped = wrapped.WithPath(path)
		}
	}
	span.RecordError(wrapped)
	if s, ok := span.(trace.Span); ok {
		s.SetStatus(codes.Error, wrapped.Kind)
	}
	return wrapped
}

// startSpan opens a tracing span for one root operation when a tracer is
// configured, annotated with the node path and entity type.
func (m *Mapper) startSpan(ctx context.Context, op, path string, d *typeDesc) (context.Context, trace.Span) {
	if m.cfg.tracer == nil {
		return ctx, noopSpan{}
	}
	attrs := []attribute.KeyValue{attribute.String("arbor.path", path)}
	if d != nil {
		attrs = append(attrs, attribute.String("arbor.type", d.name))
	}
	return m.cfg.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
}

// clear discards the operation's history. Root entry points run it in a
// defer so no instances leak across operations, success or failure.
func (c *opCtx) clear() {
	clear(c.history)
}

func (m *Mapper) dynamic() bool { return m.cfg.dynamic }

func (m *Mapper) logger() *slog.Logger { return m.cfg.logger }

func (m *Mapper) cleanName(name string) string {
	if m.cfg.rawNames {
		return name
	}
	return CleanName(name)
}

// descriptor returns the compiled descriptor of a registered struct type.
func (m *Mapper) descriptor(t reflect.Type) (*typeDesc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.mapped[t]
	if !ok {
		return nil, fmt.Errorf("%s: %w", t, ErrNotRegistered)
	}
	return d, nil
}

// anyDescriptor returns a registered descriptor, or compiles a throwaway
// one for a type that is only in the known pool. Used when diffing against
// the field set of a previously stored type.
func (m *Mapper) anyDescriptor(t reflect.Type) (*typeDesc, error) {
	if d, err := m.descriptor(t); err == nil {
		return d, nil
	}
	return compileType(t)
}

// descriptorForValue resolves the descriptor behind an entity value,
// unwrapping interfaces and pointers.
func (m *Mapper) descriptorForValue(v reflect.Value) (*typeDesc, error) {
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	t := v.Type()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return m.descriptor(t)
}

// typeByName resolves a discriminator value to a registered struct type.
func (m *Mapper) typeByName(name string) (reflect.Type, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.mappedName[name]
	if !ok {
		return nil, false
	}
	return d.typ, true
}

// knownByName resolves a name in the known pool, registered or not.
func (m *Mapper) knownByName(name string) (reflect.Type, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.known[name]
	return t, ok
}

// lookupType resolves a stored type name against registered types first,
// then the known pool.
func (m *Mapper) lookupType(name string) (reflect.Type, bool) {
	if t, ok := m.typeByName(name); ok {
		return t, true
	}
	return m.knownByName(name)
}

func (m *Mapper) converter(name string) (Converter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.converters[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNoConverter)
	}
	return c, nil
}

// structTypeOf unwraps an entity value or pointer down to its struct type.
func structTypeOf(entity any) (reflect.Type, error) {
	t := reflect.TypeOf(entity)
	if t == nil {
		return nil, ErrNilEntity
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a struct type: %w", t, ErrUnsupportedType)
	}
	return t, nil
}

// noopSpan stands in when no tracer is configured.
type noopSpan struct{ trace.Span }

func (noopSpan) End(...trace.SpanEndOption)                {}
func (noopSpan) RecordError(error, ...trace.EventOption)   {}
func (noopSpan) SetStatus(codes.Code, string)              {}
func (noopSpan) SetAttributes(...attribute.KeyValue)       {}
func (noopSpan) AddEvent(string, ...trace.EventOption)     {}
func (noopSpan) IsRecording() bool                         { return false }
func (noopSpan) SpanContext() trace.SpanContext            { return trace.SpanContext{} }
