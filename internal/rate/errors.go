package rate

import "errors"

var (
	// ErrLockHeld reports that another request already holds the key.
	ErrLockHeld = errors.New("lock held")
	// ErrEmptyKey reports an acquire attempt without a key.
	ErrEmptyKey = errors.New("empty lock key")
)
