package archive

import (
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/store"
)

// Leaf is an attribute found in an object's namespace.
type Leaf struct {
	// Key is the `/`-joined path of the attribute.
	Key string

	// Attribute is nil if the namespace held a value that isn't an
	// attribute.
	Attribute store.Attribute

	// Value is the raw namespace value.
	Value interface{}
}

// Walk returns the leaves of ns depth-first, with keys visited in sorted
// order at every level.
func Walk(ns store.Namespace) iter.Seq[Leaf] {
	return func(yield func(Leaf) bool) {
		walk(ns, "", yield)
	}
}

func walk(ns map[string]interface{}, prefix string, yield func(Leaf) bool) bool {
	keys := make([]string, 0, len(ns))
	for key := range ns {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := strings.TrimPrefix(prefix+"/"+key, "/")
		switch value := ns[key].(type) {
		case store.Namespace:
			if !walk(value, path, yield) {
				return false
			}
		case map[string]interface{}:
			if !walk(value, path, yield) {
				return false
			}
		default:
			attr, _ := value.(store.Attribute)
			if !yield(Leaf{Key: path, Attribute: attr, Value: value}) {
				return false
			}
		}
	}
	return true
}

// Type returns the remote type of the leaf, or a description of the raw
// value if it isn't an attribute.
func (leaf Leaf) Type() store.Type {
	if leaf.Attribute == nil {
		return store.Type(fmt.Sprintf("%T", leaf.Value))
	}
	return leaf.Attribute.Type()
}

// lookup returns the attribute at the `/`-joined path within ns.
func lookup(ns store.Namespace, path string) (store.Attribute, bool) {
	var cur interface{} = map[string]interface{}(ns)
	for _, part := range strings.Split(path, "/") {
		var next interface{}
		switch m := cur.(type) {
		case store.Namespace:
			next = m[part]
		case map[string]interface{}:
			next = m[part]
		default:
			return nil, false
		}
		if next == nil {
			return nil, false
		}
		cur = next
	}
	attr, ok := cur.(store.Attribute)
	return attr, ok
}
