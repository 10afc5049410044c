package arbor

import (
	"reflect"

	"github.com/arbormap/arbor/store"
)

// opCtx carries the state of a single mapping operation: the session it
// runs against, the effective filter, callback and mixins, and the history
// of instances built so far.
type opCtx struct {
	m        *Mapper
	sess     store.Session
	filter   *NodeFilter
	callback Callback
	mixins   []string

	// history caches built instances by node path and remaining depth.
	// Revisiting a node mid-operation hands back the instance already
	// built for it, which keeps cyclic graphs convergent and identity
	// stable.
	history map[historyKey]reflect.Value
}

type historyKey struct {
	path      string
	remaining int
}

func (m *Mapper) newOpCtx(sess store.Session, cfg opConfig) *opCtx {
	return &opCtx{
		m:        m,
		sess:     sess,
		filter:   cfg.filter,
		callback: cfg.callback,
		mixins:   cfg.mixins,
		history:  make(map[historyKey]reflect.Value),
	}
}

// key builds the history key for a node mapped at the given depth. Two
// visits share an instance only when the same amount of depth remains
// below them, so a bounded mapping never reuses a shallower rendering
// where a deeper one is called for.
func (c *opCtx) key(path string, depth int) historyKey {
	remaining := DepthInfinite
	if max := c.filter.MaxDepth(); max != DepthInfinite {
		remaining = max - depth
	}
	return historyKey{path: path, remaining: remaining}
}
