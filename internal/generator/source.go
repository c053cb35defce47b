// Package generator adapts external item producers to the pool's pull
// contract: a lazy sequence of documents or query bodies, ended by io.EOF.
// The engine never cares how a source makes its items; it only classifies
// Next errors as per-item (encoding, query spec) or fatal (everything else).
package generator

import (
	"context"
	"encoding/json"
)

// Item is one generator-produced unit: a document body for ingestion or a
// ready-to-send query body for search. ID carries the sequence position used
// for bulk ids and ground-truth lookup.
type Item struct {
	ID   string
	Body json.RawMessage
}

// Source is a lazy, possibly infinite item stream. Next returns io.EOF at
// natural exhaustion; any other error is classified by the caller. Sources
// are never restarted mid-task.
type Source interface {
	Next(ctx context.Context) (Item, error)
	Close() error
}
