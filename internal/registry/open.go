package registry

import (
	"fmt"

	"github.com/fyrsmithlabs/filingrag/internal/config"
)

// Open returns the Store selected by cfg.Driver.
func Open(cfg config.RegistryConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "file", "sqlite", "":
		path, err := config.ExpandPath(cfg.Path)
		if err != nil {
			return nil, err
		}
		if cfg.Driver == "file" {
			return NewFile(path)
		}
		return NewSQLite(path)
	default:
		return nil, fmt.Errorf("unsupported registry driver %q (supported: sqlite, file, memory)", cfg.Driver)
	}
}
