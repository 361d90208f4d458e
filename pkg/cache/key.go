package cache

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultNamespace prefixes keys that do not set a namespace.
const DefaultNamespace = "catalog"

// Key identifies a value in the shared store.
type Key struct {
	// Namespace groups keys of one application (default "catalog").
	Namespace string

	// Name is the key path inside the namespace (e.g. "ingestion:run").
	Name string

	// Params are optional qualifiers (e.g. {"source": "games"}).
	Params map[string]string
}

// String generates a deterministic key string.
// Format: namespace:name:param1=val1:param2=val2
//
// Example:
//
//	catalog:ingestion:run
func (k Key) String() string {
	namespace := k.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	parts := []string{namespace}

	name := strings.Trim(k.Name, ":")
	if name != "" {
		parts = append(parts, name)
	}

	// Params sorted for determinism
	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Params[key]))
		}
	}

	return strings.Join(parts, ":")
}
