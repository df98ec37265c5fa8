package hashindex

import "errors"

// Sentinel errors of the hash index. ErrAllocationFailed is returned by
// table construction; ErrPageDecodeFailed and ErrSplitBoundExceeded wrap
// failures that are only written to the log. Insert/Remove/GetValue
// deliberately do not return errors: they use the boolean/slice surface
// the external interface contract specifies.
var (
	ErrAllocationFailed   = errors.New("hashindex: buffer pool exhausted during table construction")
	ErrPageDecodeFailed   = errors.New("hashindex: page decode failed")
	ErrSplitBoundExceeded = errors.New("hashindex: split recursion exceeded max depth")
)
