package cache

import (
	"strings"

	"github.com/Sternrassler/book-metadata-client/pkg/isbn"
)

// DefaultNamespace prefixes every cache key.
const DefaultNamespace = "bookmeta"

// KeyFor returns the Redis key for an ISBN lookup.
// Format: namespace:isbn:key
//
// Example:
//
//	bookmeta:isbn:9787121123456
func KeyFor(namespace string, key isbn.Key) string {
	namespace = strings.Trim(namespace, ":")
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + ":isbn:" + key.String()
}
