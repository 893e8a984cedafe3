package app

import "errors"

var (
	// ErrMissingFile indicates the upload carried no file payload.
	ErrMissingFile = errors.New("file payload required")
	// ErrNotCSV indicates the declared mimetype lacks the "csv" substring.
	ErrNotCSV = errors.New("only csv files are accepted")
	// ErrNotFound indicates no record matched.
	ErrNotFound = errors.New("file not found")
	// ErrEmptyQuery indicates a search with no filter fields.
	ErrEmptyQuery = errors.New("at least one search parameter required")
	// ErrStorage wraps object storage failures. No record exists when
	// this is returned.
	ErrStorage = errors.New("object storage failure")
	// ErrPersistence wraps database failures.
	ErrPersistence = errors.New("persistence failure")
)
