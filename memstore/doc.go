// Package memstore provides an in-memory implementation of the store
// contract. It is the reference backend: every capability the mapper can
// use is implemented, including ordered children, mixins and the
// check-in/check-out versioning facility.
//
// A Store holds the persisted tree. Sessions work on a private snapshot of
// it; mutations become visible to later sessions only after Save. This
// mirrors the transient-until-persisted lifecycle of the contract without
// any locking burden on the caller beyond one-session-per-goroutine.
//
// Example:
//
//	st := memstore.New()
//	sess, _ := st.Session()
//	defer sess.Close()
//
//	root, _ := sess.Root(ctx)
//	node, _ := root.AddChild(ctx, "content", "")
//	_ = node.SetProperty(ctx, "title", store.StringValue("Hello"))
//	_ = sess.Save(ctx)
//
// memstore is intended for tests and embedded use; it keeps everything in
// process memory and persists nothing.
package memstore
