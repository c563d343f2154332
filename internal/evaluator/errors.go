package evaluator

import "errors"

var (
	// ErrMalformedInput marks structurally unusable input: misaligned
	// series or non-finite values outside the warm-up region.
	ErrMalformedInput = errors.New("malformed input")

	// ErrInvalidConfig marks an unusable horizon set or move threshold.
	ErrInvalidConfig = errors.New("invalid evaluation config")
)
