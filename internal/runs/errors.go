package runs

import "errors"

// ErrNotFound indicates the requested run does not exist.
var ErrNotFound = errors.New("run not found")
