// Package chunkdex provides an embeddable hybrid search engine for text
// chunks: BM25 lexical retrieval, HNSW approximate nearest-neighbor
// retrieval over embeddings, and rank profiles that blend the two.
//
// The same engine powers the chunkdex server (cmd/chunkdex); embedding it
// gives a single-process index with no network hop.
//
//	client, _ := chunkdex.New(chunkdex.WithDimensions(3072))
//	defer client.Close()
//
//	_, _ = client.Put(ctx, chunkdex.Chunk{
//	    ID:         "doc1-0",
//	    ResourceID: "doc1",
//	    Text:       "the quick brown fox",
//	    Embedding:  vec,
//	})
//
//	hits, _ := client.Search().
//	    Terms("quick fox").
//	    Embedding(queryVec).
//	    K(10).
//	    Do(ctx)
//
// With an Embedder configured, whole documents can be ingested directly:
// the client splits them into overlapping chunks, embeds each piece, and
// upserts the results under one resource id.
package chunkdex
