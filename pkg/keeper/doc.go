// Package keeper is the orchestration layer of the semantic memory store.
//
// Invariants:
//   - The document store and the vector store are written as one logical
//     unit; a vector store failure after a document store write surfaces as
//     an explicit error, never silently.
//   - Content hashes change only when raw content changes; tag-only updates
//     merge tags without re-embedding or re-summarizing.
//   - Ids starting with "." are hidden and never appear in meta-doc
//     resolution results.
//
// Usage:
//
//	k, _ := keeper.New(keeper.Config{
//		Collection: "notes",
//		Docs:       docs,
//		Vecs:       vecs,
//		Embedder:   embedder,
//	})
//	item, _ := k.Put(ctx, keeper.PutRequest{ID: "note-1", Content: "hello"})
//	results, _ := k.Find(ctx, "greeting", 5)
//	_, _ = item, results
package keeper
