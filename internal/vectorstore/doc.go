// Package vectorstore persists chunk vectors per filing namespace and answers
// nearest-neighbour queries over them.
//
// Two backends implement Store:
//   - ChromemStore (default): embedded chromem-go, one collection per
//     namespace, persistent when a path is configured.
//   - QdrantStore: a Qdrant server over gRPC, one shared collection with a
//     namespace payload on every point.
//
// Vectors are always supplied by the caller. Stores never embed text.
//
// Upserts are sent in sequential batches. A failed batch returns a
// *BatchError carrying the number of records already committed; earlier
// batches stay in place and a retry overwrites them by id.
//
// Querying an empty or missing namespace returns an empty result, not an
// error. An unconfigured store is represented by Unavailable, which fails
// every call with ErrUnavailable.
package vectorstore
