// Package factory selects a vector store backend from configuration.
package factory

import (
	"context"
	"fmt"

	"github.com/refbase/refrag/pkg/vectorstore"
	"github.com/refbase/refrag/pkg/vectorstore/local"
	"github.com/refbase/refrag/pkg/vectorstore/milvus"
)

// Config names a backend and how to reach it.
type Config struct {
	// Backend is "local" or "milvus".
	Backend string
	// Path is the data directory for the local backend.
	Path string
	// Address is the Milvus endpoint, host:port.
	Address string
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config) (vectorstore.Store, error) {
	switch cfg.Backend {
	case "local", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("local backend requires a data path")
		}
		return local.Open(cfg.Path)
	case "milvus":
		if cfg.Address == "" {
			return nil, fmt.Errorf("milvus backend requires an address")
		}
		return milvus.Open(ctx, cfg.Address)
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
	}
}
