package executor

import (
	"fmt"
	"strconv"
	"strings"
)

// readFieldPath walks a dotted path through nested maps and slices, with
// numeric segments indexing into slices:
//
//	spec.template.spec.containers.0.resources.limits.memory
func readFieldPath(obj map[string]interface{}, path string) (string, error) {
	var cur interface{} = obj
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[seg]
			if !ok {
				return "", fmt.Errorf("%w: segment %q", ErrFieldNotFound, seg)
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return "", fmt.Errorf("%w: index %q out of range", ErrFieldNotFound, seg)
			}
			cur = node[idx]
		default:
			return "", fmt.Errorf("%w: segment %q is not traversable", ErrFieldNotFound, seg)
		}
	}
	return stringifyLeaf(cur)
}

// writeFieldPath sets a leaf value at a dotted path. Intermediate
// containers must already exist; the executor only rewrites fields it has
// just read.
func writeFieldPath(obj map[string]interface{}, path, value string) error {
	segs := strings.Split(path, ".")
	var cur interface{} = obj

	for _, seg := range segs[:len(segs)-1] {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[seg]
			if !ok {
				return fmt.Errorf("%w: segment %q", ErrFieldNotFound, seg)
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return fmt.Errorf("%w: index %q out of range", ErrFieldNotFound, seg)
			}
			cur = node[idx]
		default:
			return fmt.Errorf("%w: segment %q is not traversable", ErrFieldNotFound, seg)
		}
	}

	leaf := segs[len(segs)-1]
	parent, ok := cur.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: parent of %q is not an object", ErrFieldNotFound, leaf)
	}
	parent[leaf] = value
	return nil
}

func stringifyLeaf(v interface{}) (string, error) {
	switch leaf := v.(type) {
	case string:
		return leaf, nil
	case int64:
		return strconv.FormatInt(leaf, 10), nil
	case float64:
		return strconv.FormatFloat(leaf, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(leaf), nil
	default:
		return "", fmt.Errorf("%w: leaf is not a scalar", ErrFieldNotFound)
	}
}
