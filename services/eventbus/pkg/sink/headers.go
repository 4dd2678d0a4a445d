// Package sink holds helpers shared by the broker adapters in its
// subpackages. Every adapter satisfies publisher.Sink.
package sink

import (
	"sort"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/canonical"
)

// Header names attached to every delivered record.
const (
	HeaderKind        = "kind"
	HeaderDataType    = "dataType"
	HeaderFormat      = "format"
	HeaderContentType = "content-type"

	ContentType = "application/x-protobuf"
)

// Header is one ordered key/value pair.
type Header struct {
	Key   string
	Value string
}

// Headers returns the record metadata plus kind, data type and format,
// sorted by key. Reserved names win over Bronze metadata entries.
func Headers(r canonical.Record) []Header {
	m := make(map[string]string, len(r.Meta)+4)
	for k, v := range r.Meta {
		m[k] = v
	}
	m[HeaderKind] = r.Kind
	m[HeaderDataType] = r.DataType
	m[HeaderFormat] = r.Format.String()
	m[HeaderContentType] = ContentType

	out := make([]Header, 0, len(m))
	for k, v := range m {
		out = append(out, Header{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
