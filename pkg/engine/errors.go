package engine

import "errors"

var (
	ErrLocked      = errors.New("a lockfile already exists")
	ErrReadOnly    = errors.New("operation not allowed in read only mode")
	ErrClosed      = errors.New("engine is shut down")
	ErrEmptyKey    = errors.New("empty key")
	ErrLargeKey    = errors.New("invalid key: size is too large")
	ErrLargeValue  = errors.New("invalid value: size is too large")
	ErrNotFound    = errors.New("no entry for key")
	ErrChecksum    = errors.New("invalid data: checksum does not match")
	ErrCheckFailed = errors.New("transaction check failed")
	ErrNotCounter  = errors.New("value is not a counter")
)
