package store

import "errors"

var (
	// ErrInvalidArgument reports a nil or malformed entity. It is a caller bug
	// and never worth retrying.
	ErrInvalidArgument = errors.New("store: invalid argument")

	// ErrConcurrencyFailure reports that the record was modified or deleted
	// since it was loaded. Reload and retry.
	ErrConcurrencyFailure = errors.New("store: concurrency failure, record changed since it was loaded")

	// ErrNotFound reports a lookup that matched nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrDisposed reports use of a store after Release.
	ErrDisposed = errors.New("store: used after release")
)
