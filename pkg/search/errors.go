package search

import (
	"errors"
	"fmt"
)

// Pipeline stage names used in StageError.
const (
	StageEmbed    = "embed"
	StageRerank   = "rerank"
	StageGenerate = "generate"
)

var (
	// ErrEmptyCorpus is returned when retrieval is attempted against a
	// corpus with zero chunks.
	ErrEmptyCorpus = errors.New("corpus has no chunks")

	// ErrDimensionMismatch is returned when the query embedding
	// dimensionality differs from the corpus dimensionality.
	ErrDimensionMismatch = errors.New("query embedding dimensionality does not match corpus")
)

// StageError wraps a collaborator failure with the pipeline stage it
// occurred in, so callers can tell retrieval failures from generation
// failures.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
