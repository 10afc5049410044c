package factory

import (
	"fmt"

	"github.com/arbormap/arbor"
	"github.com/arbormap/arbor/etcdstore"
	"github.com/arbormap/arbor/memstore"
	"github.com/arbormap/arbor/redistore"
	"github.com/arbormap/arbor/store"
)

// Store is the surface shared by every backend the factory can open.
type Store interface {
	Session() (store.Session, error)
	Close() error
}

// Open builds the store the configuration selects. The caller owns the
// returned store and must close it.
func Open(cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case "", BackendMemory:
		return memstore.New(), nil

	case BackendRedis:
		return redistore.Open(redistore.Options{
			URL:            cfg.Redis.URL,
			KeyPrefix:      cfg.Redis.KeyPrefix,
			ConnectTimeout: cfg.Redis.GetConnectTimeout(),
			ReadTimeout:    cfg.Redis.GetReadTimeout(),
			WriteTimeout:   cfg.Redis.GetWriteTimeout(),
		})

	case BackendEtcd:
		return etcdstore.Open(etcdstore.Options{
			Endpoints:   cfg.Etcd.Endpoints,
			Namespace:   cfg.Etcd.Namespace,
			DialTimeout: cfg.Etcd.GetDialTimeout(),
		})
	}
	return nil, fmt.Errorf("factory: unknown backend %q", cfg.Backend)
}

// NewMapper builds a mapper with the configured toggles applied. Extra
// options are appended after the configured ones, so callers can still pass
// loggers and tracers.
func NewMapper(cfg *Config, opts ...arbor.Option) *arbor.Mapper {
	var base []arbor.Option
	if cfg != nil && cfg.Mapper != nil {
		if cfg.Mapper.DynamicInstantiation {
			base = append(base, arbor.WithDynamicInstantiation())
		}
		if cfg.Mapper.RawNames {
			base = append(base, arbor.WithRawNames())
		}
	}
	return arbor.New(append(base, opts...)...)
}
