package sync

import "errors"

var (
	// ErrSyncInProgress rejects a second sync on a connection that
	// already has one in flight.
	ErrSyncInProgress = errors.New("sync already in progress for this connection")

	// ErrValidation marks a record that fails required-field checks.
	// The record is skipped, the batch continues.
	ErrValidation = errors.New("record validation failed")

	// ErrConfiguration marks an unusable mapping (widened direction,
	// missing fields). It aborts that entity mapping, not the batch.
	ErrConfiguration = errors.New("mapping configuration error")
)
