package chunker

import "errors"

// ErrInvalidOptions is returned when the window geometry cannot terminate,
// i.e. overlap >= chunk size or a non-positive chunk size.
var ErrInvalidOptions = errors.New("invalid chunking options")
