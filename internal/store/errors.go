package store

import "errors"

var (
	ErrNotFound         = errors.New("record not found")
	ErrAlreadyResolved  = errors.New("suggestion already resolved")
	ErrDuplicatePattern = errors.New("duplicate pattern")
	ErrDuplicateKey     = errors.New("duplicate idempotency key")
	ErrFeedbackApplied  = errors.New("feedback already applied to pattern")
)
