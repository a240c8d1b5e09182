package storage

import (
	"errors"
)

var (
	// ErrCollision if an item already exists within the store.
	ErrCollision = errors.New("item already exists")

	ErrNotFound = errors.New("not found")

	// ErrInvalidRecord if a persisted payload cannot be decoded.
	ErrInvalidRecord = errors.New("invalid stored record")
)
