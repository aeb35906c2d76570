package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrSource  = "source"
	attrSuccess = "success"
	attrShape   = "shape"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality: 200-299 -> 2xx, etc.
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func sourceAttr(source string) attribute.KeyValue {
	return attribute.String(attrSource, source)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func shapeAttr(shape string) attribute.KeyValue {
	return attribute.String(attrShape, shape)
}

// normalizePath replaces dynamic path segments with placeholders to keep
// metric cardinality bounded: /songs/song-abc/generate -> /songs/{id}/generate.
func normalizePath(path string) string {
	const prefix = "/songs/"
	if !strings.HasPrefix(path, prefix) || len(path) == len(prefix) {
		return path
	}
	rest := path[len(prefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return prefix + "{id}" + rest[i:]
	}
	return prefix + "{id}"
}
