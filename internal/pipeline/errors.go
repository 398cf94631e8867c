package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a stage failure. The kind decides retry treatment
// and is surfaced verbatim in the job's terminal snapshot.
type ErrorKind string

const (
	KindAcquisition   ErrorKind = "AcquisitionError"
	KindParse         ErrorKind = "ParseError"
	KindEmbedding     ErrorKind = "EmbeddingError"
	KindConfiguration ErrorKind = "ConfigurationError"
	KindStore         ErrorKind = "StoreError"
)

// StageError wraps a collaborator failure with its classification.
// Unclassified errors are wrapped by the stage with Retryable false:
// when in doubt, fail rather than loop.
type StageError struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func NewStageError(kind ErrorKind, retryable bool, err error) *StageError {
	return &StageError{Kind: kind, Retryable: retryable, Err: err}
}

// Classify returns the StageError for err, wrapping unclassified errors as
// a non-retryable error of the given default kind.
func Classify(err error, defaultKind ErrorKind) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Kind: defaultKind, Retryable: false, Err: err}
}
