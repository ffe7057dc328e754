package repository

import "errors"

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateReference is returned by InsertTransaction when another
	// transaction already holds the same (source, reference, type) key. The
	// enclosing unit of work must be aborted and the winning row re-read.
	ErrDuplicateReference = errors.New("duplicate reference")
)
