package stattree

import "errors"

// Registration and query errors.
var (
	ErrNilOwner            = errors.New("stattree: owner is nil")
	ErrUncomparableOwner   = errors.New("stattree: owner is not comparable")
	ErrNilParent           = errors.New("stattree: parent is nil")
	ErrParentNotRegistered = errors.New("stattree: parent is not registered")
	ErrEmptyPath           = errors.New("stattree: empty path segment")
	ErrPathConflict        = errors.New("stattree: path segment is not a container")
	ErrInvalidQuery        = errors.New("stattree: invalid query")
)
