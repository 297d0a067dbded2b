package data

import "errors"

var (
	// ErrNotFound is returned when no document matches a lookup.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert hits a unique index.
	ErrDuplicate = errors.New("record already exists")
	// ErrUserExists is returned by CreateUser for an already registered phone.
	ErrUserExists = errors.New("user already exists")
)
