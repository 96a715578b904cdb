package domain

import "errors"

// Error kinds shared across the pipeline. Producers wrap them with %w so that
// callers can tell "no index yet" apart from "index is corrupt" with errors.Is.
var (
	ErrLoader       = errors.New("document load failed")
	ErrSplitConfig  = errors.New("invalid splitter configuration")
	ErrEmbedding    = errors.New("embedding failed")
	ErrNoVectors    = errors.New("embedding produced no vectors")
	ErrBuild        = errors.New("index build failed")
	ErrPersist      = errors.New("index persist failed")
	ErrLoad         = errors.New("index load failed")
	ErrInvalidState = errors.New("index not initialized")
	ErrDimension    = errors.New("vector dimension mismatch")
)
