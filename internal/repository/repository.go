// Package repository declares shared persistence errors. Implementations
// live in subpackages; this package must not import database drivers.
package repository

import "errors"

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")
