package storage

import "errors"

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrAlreadyExists = errors.New("storage: already exists")
	ErrConflict      = errors.New("storage: precondition failed")
	ErrUnavailable   = errors.New("storage: backend unavailable")
)
