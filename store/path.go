package store

import "strings"

// RootPath is the absolute path of the tree root.
const RootPath = "/"

// Join appends a child name to an absolute parent path.
func Join(parent, name string) string {
	if parent == "" || parent == RootPath {
		return RootPath + name
	}
	return parent + "/" + name
}

// ParentPath returns the absolute path of the parent node. The root is its
// own parent.
func ParentPath(path string) string {
	if IsRoot(path) {
		return RootPath
	}
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return RootPath
	}
	return path[:idx]
}

// BaseName returns the last component of an absolute path, "" for the root.
func BaseName(path string) string {
	if IsRoot(path) {
		return ""
	}
	return path[strings.LastIndex(path, "/")+1:]
}

// IsRoot reports whether the path addresses the tree root.
func IsRoot(path string) bool {
	return path == "" || path == RootPath
}

// Components splits an absolute path into its name components. The root has
// none.
func Components(path string) []string {
	if IsRoot(path) {
		return nil
	}
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

// IsAncestor reports whether ancestor strictly contains path in its subtree.
func IsAncestor(ancestor, path string) bool {
	if IsRoot(ancestor) {
		return !IsRoot(path)
	}
	return len(path) > len(ancestor) && strings.HasPrefix(path, ancestor+"/")
}
