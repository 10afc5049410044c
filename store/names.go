package store

import "strings"

// Node types used by the store and the mapping conventions built on it.
const (
	// TypeUnstructured is the default node type: free-form properties and
	// children.
	TypeUnstructured = "sys:unstructured"

	// TypeFile marks a file node; its payload lives in a ContentNodeName
	// child of type TypeResource.
	TypeFile = "sys:file"

	// TypeFolder marks a container of file nodes.
	TypeFolder = "sys:folder"

	// TypeResource marks the content child of a file node.
	TypeResource = "sys:resource"

	// TypeVersion marks a frozen version node inside a version history.
	TypeVersion = "sys:version"
)

// Reserved property names.
const (
	// PropCreated is the creation timestamp stamped by the store on every
	// new node.
	PropCreated = "sys:created"

	// PropMimeType, PropLastModified, PropEncoding and PropData carry file
	// content metadata on TypeResource nodes.
	PropMimeType     = "sys:mimeType"
	PropLastModified = "sys:lastModified"
	PropEncoding     = "sys:encoding"
	PropData         = "sys:data"

	// PropVersionHistory holds, on a versionable node, the identifier of
	// its version history node.
	PropVersionHistory = "sys:versionHistory"

	// PropChildVersionHistory holds, on a frozen stand-in for a versionable
	// child, the identifier of that child's version history node.
	PropChildVersionHistory = "sys:childVersionHistory"
)

// Reserved child node names.
const (
	// ContentNodeName is the content child of a file node.
	ContentNodeName = "sys:content"

	// FrozenNodeName is the frozen state child of a version node.
	FrozenNodeName = "sys:frozenNode"

	// RootVersionName is the empty base version every version history
	// starts with.
	RootVersionName = "sys:rootVersion"

	// VersionStorageName is the hidden top-level node holding all version
	// histories, addressable as /sys:versionStorage.
	VersionStorageName = "sys:versionStorage"
)

// Mixin capability tags.
const (
	// MixinReferenceable marks a node as a valid target for reference
	// values.
	MixinReferenceable = "mix:referenceable"

	// MixinVersionable enables the versioning facility for a node.
	MixinVersionable = "mix:versionable"
)

// IsReservedName reports whether a property or node name belongs to the
// store's reserved namespaces.
func IsReservedName(name string) bool {
	return strings.HasPrefix(name, "sys:") || strings.HasPrefix(name, "mix:")
}
