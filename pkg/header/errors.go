package header

import "errors"

// ErrShortBuffer is returned by Decode when src is smaller than Size.
var ErrShortBuffer = errors.New("header: buffer shorter than table size")
