package atomix

import (
	"fmt"
	"strings"
)

// Key identifies a document's storage location: "{TypeName}:{primary-key}".
type Key string

// MakeKey builds a Key from a type name and a primary key.
func MakeKey(typeName, pk string) Key {
	return Key(typeName + ":" + pk)
}

// Prefix returns the type-name part of the key, or "" when the key carries
// no prefix.
func (k Key) Prefix() string {
	i := strings.IndexByte(string(k), ':')
	if i < 0 {
		return ""
	}
	return string(k)[:i]
}

// PK returns the primary-key part, which is everything after the first colon.
func (k Key) PK() string {
	i := strings.IndexByte(string(k), ':')
	if i < 0 {
		return string(k)
	}
	return string(k)[i+1:]
}

// Qualified reports whether the key carries a type prefix.
func (k Key) Qualified() bool {
	return strings.IndexByte(string(k), ':') >= 0
}

func (k Key) String() string {
	return string(k)
}

// queueKey derives the sorted-set key backing a priority-queue field:
// "{ParentKey}:pq:{field}".
func (k Key) queueKey(field string) Key {
	return Key(fmt.Sprintf("%s:pq:%s", k, field))
}

// isQueueKey reports whether the key addresses a derived priority-queue
// sorted set rather than a document.
func isQueueKey(k string) bool {
	return strings.Contains(k, ":pq:")
}

// jsonPath converts a dotted field path ("" for the document root) into the
// store's JSONPath form.
func jsonPath(fieldPath string) string {
	return "$" + fieldPath
}
