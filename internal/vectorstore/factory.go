package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/filingrag/internal/config"
	"go.uber.org/zap"
)

// NewStore creates the Store selected by cfg.Provider:
//   - "chromem" (default): embedded, no external service
//   - "qdrant": requires a running Qdrant server
//   - "none": Unavailable
//
// dimension sizes a new Qdrant collection and may be zero.
func NewStore(ctx context.Context, cfg config.VectorStoreConfig, dimension int, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "chromem", "":
		path, err := config.ExpandPath(cfg.Path)
		if err != nil {
			return nil, err
		}
		return NewChromemStore(ChromemConfig{
			Path:        path,
			Compress:    cfg.Compress,
			BatchSize:   cfg.UpsertBatchSize,
			TextPreview: cfg.TextPreview,
		}, logger)

	case "qdrant":
		return NewQdrantStore(ctx, QdrantConfig{
			Host:        cfg.QdrantHost,
			Port:        cfg.QdrantPort,
			Collection:  cfg.QdrantCollection,
			UseTLS:      cfg.QdrantTLS,
			APIKey:      cfg.QdrantAPIKey.Value(),
			VectorSize:  dimension,
			BatchSize:   cfg.UpsertBatchSize,
			TextPreview: cfg.TextPreview,
		}, logger)

	case "none":
		return Unavailable{Reason: "vectorstore.provider is none"}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider %q (supported: chromem, qdrant, none)", ErrInvalidConfig, cfg.Provider)
	}
}
