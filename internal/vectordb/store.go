package vectordb

import "context"

// Store holds the sql, ddl and documentation training collections.
type Store interface {
	// Add stores content under kind and returns its id. Adding the same
	// content twice returns the same id and stores nothing new.
	Add(ctx context.Context, kind Kind, content, question string) (string, error)

	// GetExactQuestionSQL returns the SQL of the first stored pair whose
	// question equals question, ignoring case and surrounding whitespace.
	GetExactQuestionSQL(ctx context.Context, question string) (string, bool)

	// Query returns up to k nearest neighbours of text in kind's collection.
	Query(ctx context.Context, kind Kind, text string, k int) ([]RetrievalResult, error)

	// Remove deletes one item, routing by id suffix.
	Remove(ctx context.Context, id string) (bool, error)

	// Reset empties a whole collection.
	Reset(ctx context.Context, kind Kind) error

	// ListTraining returns every stored item, grouped by kind.
	ListTraining(ctx context.Context) []TrainingItem

	// IDs returns the ids of every stored item.
	IDs() []string

	// Persist saves the store's data to the given directory.
	Persist(ctx context.Context, dir string) error

	// Load restores the store's data from the given directory.
	Load(ctx context.Context, dir string) error

	// Count returns the total number of items across collections.
	Count() int
}
