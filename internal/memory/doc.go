// Package memory keeps per-conversation dialogue state on top of a docstore.
//
// ShortTermStore is an append-only log of recent turns read back with a suffix
// cap. VectorStore holds embedded long-term facts and answers top-K cosine
// similarity queries over a recency-capped window of them.
//
// Neither store holds locks of its own: concurrent turns for the same
// conversation rely on each append being a single write against one key.
package memory
