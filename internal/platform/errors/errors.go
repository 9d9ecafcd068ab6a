package apperrors

import "errors"

// ErrInvalidInput marks configuration and argument errors the user can fix.
var ErrInvalidInput = errors.New("invalid input")
