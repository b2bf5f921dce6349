package stores

import "errors"

var (
	// ErrDuplicateRun is returned by AddRun when a record with the same run
	// ID already exists. Both backends translate their native uniqueness
	// violation to this error.
	ErrDuplicateRun = errors.New("run id already exists")

	// ErrNotFound is returned by GetRunByID when no record with the given
	// run ID exists.
	ErrNotFound = errors.New("run not found")

	// ErrUnavailable is returned when the durable backend cannot open or
	// migrate its database. A backend that fails to initialize refuses all
	// subsequent operations rather than degrading partially.
	ErrUnavailable = errors.New("run storage unavailable")
)
