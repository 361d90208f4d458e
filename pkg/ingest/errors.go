package ingest

import "errors"

var (
	// ErrAlreadyInProgress indicates a run is already Running.
	ErrAlreadyInProgress = errors.New("ingestion already in progress")

	// ErrGeneral indicates a failure before the run record was created.
	ErrGeneral = errors.New("ingestion could not be started")
)
