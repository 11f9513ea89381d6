// Package transfer provides the bounded-memory transfer engine.
//
// Key features:
//   - Deterministic synthetic content of any length from a fixed corpus
//   - Stream counting and pass-through relay through one fixed-size buffer
//   - Optional double buffering to overlap the read and write sides
//   - Pooled copy buffers and pooled LZ4 framing for collaborators
//
// Memory held by a transfer is bounded by its buffer capacity, never by the
// number of bytes moved. Callers own the streams they pass in; the engine
// never closes them.
package transfer
