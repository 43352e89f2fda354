// Package embeddings turns chunk text and questions into vectors.
//
// A Provider talks to one backend: Voyage AI, an OpenAI-compatible API,
// a HuggingFace text-embeddings-inference server, or local FastEmbed ONNX
// models. Documents and queries are embedded through separate methods so
// asymmetric models get the right input mode.
//
// Client sits in front of a Provider. It batches document embeddings,
// enforces one vector per input, and reports ErrUnavailable when no
// provider is configured.
package embeddings
