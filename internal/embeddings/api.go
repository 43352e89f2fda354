package embeddings

import (
	"context"
	"fmt"
	"sort"
)

// Voyage and OpenAI defaults.
const (
	VoyageBaseURL      = "https://api.voyageai.com/v1"
	VoyageDefaultModel = "voyage-finance-2"
	OpenAIBaseURL      = "https://api.openai.com/v1"
	OpenAIDefaultModel = "text-embedding-3-small"
)

// Voyage input modes.
const (
	inputTypeDocument = "document"
	inputTypeQuery    = "query"
)

type apiRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

type apiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// apiProvider speaks the /embeddings shape shared by Voyage AI and OpenAI.
// Only asymmetric providers send an input_type.
type apiProvider struct {
	client     *restClient
	model      string
	dimension  int
	asymmetric bool
}

func newVoyageProvider(cfg ProviderConfig) *apiProvider {
	if cfg.Model == "" {
		cfg.Model = VoyageDefaultModel
	}
	return &apiProvider{
		client:     newRESTClient(ProviderVoyage, cfg, VoyageBaseURL),
		model:      cfg.Model,
		dimension:  dimensionFor(cfg),
		asymmetric: true,
	}
}

func newOpenAIProvider(cfg ProviderConfig) *apiProvider {
	if cfg.Model == "" {
		cfg.Model = OpenAIDefaultModel
	}
	return &apiProvider{
		client:    newRESTClient(ProviderOpenAI, cfg, OpenAIBaseURL),
		model:     cfg.Model,
		dimension: dimensionFor(cfg),
	}
}

// EmbedDocuments embeds texts with input_type=document where supported.
func (p *apiProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return p.embed(ctx, texts, inputTypeDocument)
}

// EmbedQuery embeds text with input_type=query where supported.
func (p *apiProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embed(ctx, []string{text}, inputTypeQuery)
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for 1 query", ErrMisaligned, len(vectors))
	}
	return vectors[0], nil
}

func (p *apiProvider) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	req := apiRequest{Input: texts, Model: p.model}
	if p.asymmetric {
		req.InputType = inputType
	}

	var resp apiResponse
	if err := p.client.postJSON(ctx, "/embeddings", req, &resp); err != nil {
		return nil, err
	}

	// data is documented as input-ordered, but index is authoritative
	sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Dimension returns the embedding dimension for the current model.
func (p *apiProvider) Dimension() int { return p.dimension }

// Model returns the model name.
func (p *apiProvider) Model() string { return p.model }

// Close is a no-op since the provider only holds an HTTP client.
func (p *apiProvider) Close() error { return nil }
