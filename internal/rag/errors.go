package rag

import (
	"errors"
	"fmt"
)

// Error kinds. Callers test for them with errors.Is; wrapped errors keep
// the underlying cause reachable as well.
var (
	// ErrInvalidInput reports an empty or malformed argument.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCollectionNotFound reports a retrieve or delete against a missing collection.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrCollectionExists reports a write to a collection that is already stored.
	ErrCollectionExists = errors.New("collection already exists")
	// ErrExtraction reports a content extractor failure.
	ErrExtraction = errors.New("extraction failure")
	// ErrEmbedding reports an embedding service failure.
	ErrEmbedding = errors.New("embedding service error")
	// ErrLanguageModel reports a language model call failure.
	ErrLanguageModel = errors.New("language model error")
	// ErrStoreWrite reports a failed collection write.
	ErrStoreWrite = errors.New("store write error")
	// ErrEmbeddingModelMismatch reports a query embedded with a different
	// model than the one the collection was built with.
	ErrEmbeddingModelMismatch = errors.New("embedding model mismatch")
	// ErrGeneration is matched by every *GenerationError.
	ErrGeneration = errors.New("generation error")
)

// GenerationError wraps a retrieval or model failure during answer
// generation, keeping the question and collection for diagnostics.
type GenerationError struct {
	Question   string
	Collection string
	Err        error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for collection %q (question %q): %v", e.Collection, truncate(e.Question, 80), e.Err)
}

// Unwrap exposes the cause.
func (e *GenerationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrGeneration) hold for every GenerationError.
func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// invalidInput builds an ErrInvalidInput with a message.
func invalidInput(msg string) error {
	return fmt.Errorf("rag: %s: %w", msg, ErrInvalidInput)
}

// notFound builds an ErrCollectionNotFound naming the collection.
func notFound(name string) error {
	return fmt.Errorf("rag: %q: %w", name, ErrCollectionNotFound)
}

// Kind returns the sentinel matching err, or nil when err carries none.
// Used to label metrics and map errors onto HTTP status codes.
func Kind(err error) error {
	for _, k := range []error{
		ErrInvalidInput, ErrCollectionNotFound, ErrCollectionExists,
		ErrEmbeddingModelMismatch, ErrExtraction, ErrEmbedding,
		ErrLanguageModel, ErrStoreWrite, ErrGeneration,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
