// Package argdecoder reconstructs nested argument trees from the AWS EC2
// query protocol's dotted, 1-based-indexed keys (e.g. "Filter.1.Name=foo"),
// the same tree shape the original implementation's request router builds
// by walking "." separated key segments and creating intermediate maps or
// SparseLists as needed.
package argdecoder

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// SparseList is a list that tolerates assignment past its current length,
// padding with nils the way Python's list-subclass SparseList does in the
// original router.
type SparseList []any

func (l *SparseList) set(index int, value any) {
	if index >= len(*l) {
		grown := make(SparseList, index+1)
		copy(grown, *l)
		*l = grown
	}
	(*l)[index] = value
}

// Decode walks a flat set of query/form values into a nested tree of
// map[string]any and *SparseList nodes. Every leaf value must be a plain
// string; Decode never receives anything else since url.Values only ever
// holds strings, but the EC2 argument tree allows the same terminal node to
// later be overwritten by a deeper path segment only when that node hasn't
// been written to directly, matching the original router's KeyError/IndexError
// driven tree-building.
func Decode(values url.Values) (map[string]any, error) {
	tree := make(map[string]any)
	for key, vs := range values {
		for _, v := range vs {
			if err := assign(tree, strings.Split(key, "."), v); err != nil {
				return nil, fmt.Errorf("argdecoder: key %q: %w", key, err)
			}
		}
	}
	return tree, nil
}

// assign walks path through tree (a map[string]any at the root), creating
// intermediate maps or sparse lists as dictated by whether the next path
// segment is numeric, and sets the final segment to value.
func assign(tree map[string]any, path []string, value string) error {
	if len(path) == 1 {
		tree[path[0]] = value
		return nil
	}

	var cur any = tree

	for i := 0; i < len(path); i++ {
		seg := path[i]
		last := i == len(path)-1

		idx, isIndex := parseIndex(seg)

		switch node := cur.(type) {
		case map[string]any:
			if isIndex {
				return fmt.Errorf("numeric segment %q used as map key", seg)
			}
			if last {
				node[seg] = value
				return nil
			}
			next, ok := node[seg]
			if !ok {
				next = newContainerFor(path[i+1])
				node[seg] = next
			}
			cur = next

		case *SparseList:
			if !isIndex {
				return fmt.Errorf("non-numeric segment %q used as list index", seg)
			}
			if last {
				node.set(idx, value)
				return nil
			}
			var next any
			if idx < len(*node) {
				next = (*node)[idx]
			}
			if next == nil {
				next = newContainerFor(path[i+1])
				node.set(idx, next)
			}
			cur = next

		default:
			return fmt.Errorf("cannot descend into terminal value at %q", seg)
		}
	}
	return nil
}

func parseIndex(seg string) (int, bool) {
	if seg == "" {
		return 0, false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	// AWS query protocol indices are 1-based.
	return n - 1, true
}

func newContainerFor(nextSeg string) any {
	if _, isIndex := parseIndex(nextSeg); isIndex {
		l := make(SparseList, 0)
		return &l
	}
	return make(map[string]any)
}
