package audit

import "fmt"

// Backends accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// Open returns the log for the configured backend.
func Open(backend, path string) (Log, error) {
	switch backend {
	case BackendJSON, "":
		return OpenJSON(path)
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unsupported audit backend %q", backend)
	}
}

// LoadErr returns the recoverable load failure of l, if its backend
// reports one.
func LoadErr(l Log) error {
	if le, ok := l.(interface{ LoadErr() error }); ok {
		return le.LoadErr()
	}
	return nil
}
