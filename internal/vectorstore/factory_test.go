package vectorstore

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/filingrag/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, config.VectorStoreConfig{Provider: "chromem"}, 0, nil)
	require.NoError(t, err)
	assert.IsType(t, &ChromemStore{}, s)

	s, err = NewStore(ctx, config.VectorStoreConfig{Provider: "none"}, 0, nil)
	require.NoError(t, err)
	_, err = s.NamespaceExists(ctx, "ns")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = NewStore(ctx, config.VectorStoreConfig{Provider: "pinecone"}, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
