// Package arbor maps annotated Go structs to and from hierarchical content
// trees. It reflects over struct tags once, at registration time, and then
// translates entities field by field into nodes and properties of a backing
// tree store, and back.
//
// # Core Concepts
//
// The package is organized around a few key pieces:
//
//   - Mapper: the engine. Types are registered on it, operations run
//     through it.
//   - store.Session / store.Node: the backing tree store, addressable by
//     absolute path and by stable identifier. Implementations live in
//     memstore, redistore and etcdstore; factory opens one from
//     configuration.
//   - Field tags: `arbor:"..."` tags mark what each struct field means:
//     identifier, name, path, scalar property, reference, child entity or
//     file.
//   - NodeFilter: a per-operation depth and name policy bounding how much
//     of the tree a read or update touches.
//   - Lazy: a typed placeholder that defers loading a child, file or
//     reference until first access.
//
// # Mapping a Type
//
// A mapped entity declares its structure through tags:
//
//	type Post struct {
//		ID       string           `arbor:"id"`
//		Name     string           `arbor:"name"`
//		Path     string           `arbor:"path"`
//		Title    string           `arbor:"prop=title"`
//		Tags     []string         `arbor:"prop"`
//		Author   *Author          `arbor:"ref,weak"`
//		Images   []*Image         `arbor:"file"`
//		Comments Lazy[[]*Comment] `arbor:"child=comments"`
//	}
//
//	mapper := arbor.New()
//	if err := mapper.Register(&Post{}); err != nil {
//		log.Fatal(err)
//	}
//
// Exactly one name field is required per type; file entities embed File and
// inherit theirs. Registration compiles the tags into ordered field
// descriptors and validates them, so structural mistakes surface before any
// store access.
//
// # Reading and Writing
//
//	node, err := mapper.Add(ctx, sess, parent, post)        // object -> node
//	post, err := arbor.Load[*Post](ctx, mapper, sess, node) // node -> object
//	_, err = mapper.Update(ctx, sess, post)                 // diff-and-patch
//
// Within one operation the engine keeps a history of instances built per
// (path, remaining depth), so cyclic and diamond-shaped entity graphs
// converge on shared instances instead of recursing forever.
//
// # Errors
//
// Every engine failure is reported as *Error, carrying the operation, a
// kind (configuration, unmapped, store, conversion) and the original cause,
// reachable through errors.Is and errors.As.
package arbor
