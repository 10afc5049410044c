package arbor

import "strings"

// Depth and name filter constants.
const (
	// DepthInfinite disables the depth bound of a filter.
	DepthInfinite = -1

	// IncludeAll is the name filter matching every field.
	IncludeAll = "*"

	// ExcludeAll is the name filter matching no field.
	ExcludeAll = "none"
)

// NameFilter decides field inclusion by name. The filter string is either
// IncludeAll, ExcludeAll, a comma-separated list of names to include, or a
// "-"-prefixed comma-separated list of names to exclude.
type NameFilter struct {
	exclusion  bool
	includeAll bool
	excludeAll bool
	names      map[string]struct{}
}

// NewNameFilter parses a name filter string.
//
//	NewNameFilter("*")           // every field
//	NewNameFilter("none")        // no field
//	NewNameFilter("title,body")  // only these fields
//	NewNameFilter("-children")   // everything but children
func NewNameFilter(filter string) *NameFilter {
	f := &NameFilter{names: make(map[string]struct{})}
	if strings.HasPrefix(filter, "-") {
		f.exclusion = true
		filter = filter[1:]
	}
	switch filter {
	case IncludeAll:
		f.includeAll = true
	case ExcludeAll:
		f.excludeAll = true
	default:
		for _, name := range strings.Split(filter, ",") {
			if name = strings.TrimSpace(name); name != "" {
				f.names[name] = struct{}{}
			}
		}
	}
	return f
}

// IsIncluded reports whether the named field passes the filter.
func (f *NameFilter) IsIncluded(name string) bool {
	switch {
	case f.includeAll:
		return true
	case f.excludeAll:
		return false
	case f.exclusion:
		_, found := f.names[name]
		return !found
	default:
		_, found := f.names[name]
		return found
	}
}

// NodeFilter is an immutable read/update policy: how deep to traverse
// children, references and files, and which field names to include. The name
// rules apply only up to filterDepth; deeper levels fall back to the depth
// bound alone.
type NodeFilter struct {
	nameFilter  *NameFilter
	maxDepth    int
	filterDepth int
}

// NewFilter creates a filter with explicit name rules, depth bound and name
// filter depth.
func NewFilter(nameFilter string, maxDepth, filterDepth int) *NodeFilter {
	return &NodeFilter{
		nameFilter:  NewNameFilter(nameFilter),
		maxDepth:    maxDepth,
		filterDepth: filterDepth,
	}
}

// NewDepthFilter includes every field name down to the given depth.
func NewDepthFilter(maxDepth int) *NodeFilter {
	return NewFilter(IncludeAll, maxDepth, DepthInfinite)
}

// NewNameListFilter bounds traversal by names only, with unbounded depth.
func NewNameListFilter(nameFilter string) *NodeFilter {
	return NewFilter(nameFilter, DepthInfinite, DepthInfinite)
}

// DefaultFilter includes everything at every depth.
func DefaultFilter() *NodeFilter {
	return NewFilter(IncludeAll, DepthInfinite, DepthInfinite)
}

// IsIncluded reports whether a child-bearing field passes both the depth
// bound and, within filterDepth, the name rules.
func (f *NodeFilter) IsIncluded(name string, depth int) bool {
	if f.filterDepth > DepthInfinite && depth >= f.filterDepth {
		return f.IsDepthIncluded(depth)
	}
	return f.IsDepthIncluded(depth) && f.IsNameIncluded(name)
}

// IsNameIncluded applies only the name rules.
func (f *NodeFilter) IsNameIncluded(name string) bool {
	return f.nameFilter.IsIncluded(name)
}

// IsDepthIncluded reports whether child traversal is allowed at the given
// depth.
func (f *NodeFilter) IsDepthIncluded(depth int) bool {
	return f.maxDepth == DepthInfinite || depth < f.maxDepth
}

// IsPropertyDepthIncluded reports whether scalar properties are read at the
// given depth. Properties reach one level deeper than children so a
// depth-bounded read still fills the scalars of its leaf entities.
func (f *NodeFilter) IsPropertyDepthIncluded(depth int) bool {
	return f.maxDepth == DepthInfinite || depth <= f.maxDepth
}

// MaxDepth returns the depth bound, DepthInfinite when unbounded.
func (f *NodeFilter) MaxDepth() int { return f.maxDepth }
