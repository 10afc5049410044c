// Package redistore persists the node tree in Redis.
//
// Each node is one hash holding its properties (JSON-encoded, one field per
// property) plus identifier, type and mixin metadata; child order lives in a
// list per node, and a string key per identifier makes NodeByIdentifier a
// single lookup. All keys share a configurable prefix so several trees can
// share one Redis.
//
// Mutations hit Redis as they happen: Session.Save is a checkpoint no-op,
// and there is no versioning facility. Use memstore when check-in/check-out
// semantics are needed.
//
//	st, err := redistore.Open(redistore.Options{URL: "redis://localhost:6379"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	sess, err := st.Session()
package redistore
