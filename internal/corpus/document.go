// Package corpus defines the document model for locally cached notes and the
// SQLite-backed store that persists them. The answer engine reads immutable
// snapshots through the Accessor interface and never mutates documents.
package corpus

import (
	"context"
	"time"
)

// Document is one cached note produced by a source adapter. Documents are
// immutable once stored; readers receive snapshot copies.
type Document struct {
	// ID uniquely identifies the document across all sources.
	ID string

	// Title is the human-readable note title.
	Title string

	// Content is the full plain-text body of the note.
	Content string

	// Source names the adapter that produced the document (e.g. "filesystem").
	Source string

	// SourceID is the adapter-local identifier of the note.
	SourceID string

	// Folder is the location hint for the note (notebook, directory, page
	// parent). Empty when the source has no folder concept.
	Folder string

	// ModifiedAt is the last modification time reported by the source.
	ModifiedAt time.Time
}

// Accessor is the read side of the corpus consumed by the answer engine.
// All returns a full snapshot of every cached document; the engine treats
// the read as instantaneous and never pages.
type Accessor interface {
	All(ctx context.Context) ([]Document, error)
}
