package memmap

import "github.com/efikit/memmap/internal/mapmgr"

// Error values surfaced by Map operations. Exhaustion is the
// recoverable class; inconsistency and not-found mean memory
// accounting can no longer be trusted and boot-path callers should
// halt rather than continue.
var (
	ErrNotEnoughSpace     = mapmgr.ErrNotEnoughSpace
	ErrMapInconsistent    = mapmgr.ErrMapInconsistent
	ErrDescriptorNotFound = mapmgr.ErrDescriptorNotFound
	ErrInvalidStride      = mapmgr.ErrInvalidStride
	ErrInvalidAlignment   = mapmgr.ErrInvalidAlignment
	ErrInvalidRegionType  = mapmgr.ErrInvalidRegionType
	ErrVirtualMapNotSet   = mapmgr.ErrVirtualMapNotSet
)
