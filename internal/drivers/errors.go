package drivers

import "errors"

// ErrObjectNotFound is returned by Get when the key does not exist.
// All drivers normalize their backend's not-found condition to this error.
var ErrObjectNotFound = errors.New("object not found")
