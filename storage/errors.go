package storage

import "errors"

var (
	// ErrClosed is returned by repository calls after Close
	ErrClosed = errors.New("repository is closed")

	// ErrUnknownBackend is returned for an unsupported storage.backend value
	ErrUnknownBackend = errors.New("unknown storage backend")
)
