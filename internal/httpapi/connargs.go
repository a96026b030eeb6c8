package httpapi

import (
	"fmt"
	"strings"
)

// Backend distinguishes the two connection-args targets
type Backend int

const (
	BackendVectorStore Backend = iota
	BackendKnowledgeGraph
)

const (
	defaultVectorStorePort    = "19530"
	defaultKnowledgeGraphPort = "7687"
	loopbackHost              = "127.0.0.1"
)

// NormalizeConnectionArgs resolves caller-supplied connection args for a
// backend. A host of "local" (case-insensitive) is replaced by localHost
// (falling back to loopback); any other host, empty included, passes
// through untouched. The port is coerced to its string form, defaulting to
// the backend's well-known port.
func NormalizeConnectionArgs(args map[string]interface{}, backend Backend, localHost string) (host, port string) {
	if localHost == "" {
		localHost = loopbackHost
	}

	host = stringValue(args["host"])
	if strings.EqualFold(host, "local") {
		host = localHost
	}

	port = stringValue(args["port"])
	if port == "" {
		switch backend {
		case BackendKnowledgeGraph:
			port = defaultKnowledgeGraphPort
		default:
			port = defaultVectorStorePort
		}
	}

	return host, port
}

// stringValue coerces a JSON scalar to its string form. JSON numbers arrive
// as float64; integral values lose the trailing ".0".
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
