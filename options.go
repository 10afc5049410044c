package arbor

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Mapper at construction time.
type Option func(*mapperConfig)

// mapperConfig holds the configuration assembled from Options.
type mapperConfig struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	dynamic  bool
	rawNames bool
}

func defaultMapperConfig() mapperConfig {
	return mapperConfig{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used for debug output (lazy resolution, moves,
// dynamic type decisions). Defaults to slog.Default().
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	mapper := arbor.New(arbor.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *mapperConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer sets an OpenTelemetry tracer. Each Add, Update and FromNode
// call then runs inside its own span carrying the node path and entity type.
// Without a tracer no spans are created.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *mapperConfig) {
		c.tracer = tracer
	}
}

// WithDynamicInstantiation enables resolving the concrete type to
// instantiate from a stored discriminator property instead of the statically
// requested type.
func WithDynamicInstantiation() Option {
	return func(c *mapperConfig) {
		c.dynamic = true
	}
}

// WithRawNames disables node-name cleaning. Entity names are then used as
// node names verbatim, and the caller is responsible for their legality.
func WithRawNames() Option {
	return func(c *mapperConfig) {
		c.rawNames = true
	}
}

// RegisterOption configures one registered type, carrying what the mapper
// cannot learn from struct tags: the node type, type-level mixins and the
// discriminator property.
type RegisterOption func(*typeConfig)

// typeConfig is the type-level configuration attached at registration.
type typeConfig struct {
	nodeType      string
	mixins        []string
	discriminator string
}

// WithNodeType sets the primary node type used when creating nodes for this
// entity type. Defaults to store.TypeUnstructured.
func WithNodeType(nodeType string) RegisterOption {
	return func(c *typeConfig) {
		c.nodeType = nodeType
	}
}

// WithTypeMixins sets mixins applied to every node created for this entity
// type, e.g. store.MixinReferenceable for reference targets or
// store.MixinVersionable for versioned entities.
func WithTypeMixins(mixins ...string) RegisterOption {
	return func(c *typeConfig) {
		c.mixins = append(c.mixins, mixins...)
	}
}

// DefaultDiscriminator is the property consulted when resolving a stored
// node's type and no per-type discriminator is configured.
const DefaultDiscriminator = "className"

// WithDiscriminator enables discriminator stamping for this type under the
// given property name. Reads resolve the discriminator regardless (under
// WithDynamicInstantiation); only stamping is opt-in per type.
func WithDiscriminator(property string) RegisterOption {
	return func(c *typeConfig) {
		c.discriminator = property
	}
}

// OpOption configures one Add, Update or FromNode call.
type OpOption func(*opConfig)

// opConfig is the per-operation configuration.
type opConfig struct {
	filter   *NodeFilter
	callback Callback
	mixins   []string
}

func newOpConfig(opts []OpOption) opConfig {
	cfg := opConfig{
		filter:   DefaultFilter(),
		callback: DefaultCallback{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithFilter bounds the operation with a node filter.
//
// Example:
//
//	// read two levels deep, skipping the "attachments" field
//	mapper.FromNode(ctx, sess, node, (*Post)(nil),
//		arbor.WithFilter(arbor.NewFilter("-attachments", 2, arbor.DepthInfinite)))
func WithFilter(filter *NodeFilter) OpOption {
	return func(c *opConfig) {
		if filter != nil {
			c.filter = filter
		}
	}
}

// WithCallback installs a Callback for this operation.
func WithCallback(cb Callback) OpOption {
	return func(c *opConfig) {
		if cb != nil {
			c.callback = cb
		}
	}
}

// WithMixins adds mixin tags to the node created by this Add, on top of the
// entity type's registered mixins.
func WithMixins(mixins ...string) OpOption {
	return func(c *opConfig) {
		c.mixins = append(c.mixins, mixins...)
	}
}
