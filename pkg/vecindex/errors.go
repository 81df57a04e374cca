package vecindex

import "errors"

// ErrDimensionMismatch is returned when an inserted vector's length does
// not match the index's latched dimension. A mismatched insert must be
// reported, never dropped: a silently shrunk index would answer queries
// with fewer entries than the caller expects.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")
