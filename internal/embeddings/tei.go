package embeddings

import (
	"context"
	"fmt"
)

// teiRequest is the request body for TEI embed endpoint.
type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// teiProvider calls a HuggingFace text-embeddings-inference server. TEI
// models are symmetric, so documents and queries share one request shape.
type teiProvider struct {
	client    *restClient
	model     string
	dimension int
}

func newTEIProvider(cfg ProviderConfig) *teiProvider {
	return &teiProvider{
		client:    newRESTClient(ProviderTEI, cfg, cfg.BaseURL),
		model:     cfg.Model,
		dimension: dimensionFor(cfg),
	}
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *teiProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	var vectors [][]float32
	if err := p.client.postJSON(ctx, "/embed", teiRequest{Inputs: texts, Truncate: true}, &vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *teiProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	var vectors [][]float32
	if err := p.client.postJSON(ctx, "/embed", teiRequest{Inputs: text, Truncate: true}, &vectors); err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for 1 query", ErrMisaligned, len(vectors))
	}
	return vectors[0], nil
}

// Dimension returns the embedding dimension based on the configured model.
func (p *teiProvider) Dimension() int { return p.dimension }

// Model returns the model name.
func (p *teiProvider) Model() string { return p.model }

// Close is a no-op for TEI since it uses HTTP.
func (p *teiProvider) Close() error { return nil }
