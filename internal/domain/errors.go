package domain

import "errors"

// Sentinel errors shared across layers. Callers test with errors.Is.
var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)
