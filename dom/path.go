package dom

import (
	"fmt"
	"strconv"
	"strings"
)

// PathRoot addresses the document element itself.
const PathRoot = "root"

// ChildPath returns the path of the index-th element child of parent.
func ChildPath(parent string, index int) string {
	return parent + "/" + strconv.Itoa(index)
}

// ParentPath returns the path one level up, or "" for the root.
func ParentPath(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Depth returns the number of index segments below the root. The root
// itself has depth 0.
func Depth(path string) int {
	if path == PathRoot {
		return 0
	}
	return strings.Count(path, "/")
}

// IsAncestor reports whether ancestor strictly contains path.
func IsAncestor(ancestor, path string) bool {
	return len(path) > len(ancestor) && strings.HasPrefix(path, ancestor+"/")
}

// Indices parses a path into its child-index sequence. The leading "root"
// segment is consumed; the root path yields an empty slice.
func Indices(path string) ([]int, error) {
	segs := strings.Split(path, "/")
	if segs[0] != PathRoot {
		return nil, fmt.Errorf("dom: path %q does not start at %q", path, PathRoot)
	}
	out := make([]int, 0, len(segs)-1)
	for _, s := range segs[1:] {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("dom: bad path segment %q in %q", s, path)
		}
		out = append(out, n)
	}
	return out, nil
}
