package mapmgr

import "github.com/pkg/errors"

var (
	// ErrNotEnoughSpace is returned when no conventional region can
	// satisfy an allocation or growth request. It is the recoverable
	// class: callers retry smaller, fall back, or escalate.
	ErrNotEnoughSpace = errors.New("not enough space")

	// ErrMapInconsistent is returned when completing an operation
	// would break a map invariant. Continuing past it would corrupt
	// memory accounting, so boot-path callers treat it as fatal.
	ErrMapInconsistent = errors.New("memory map inconsistent")

	// ErrDescriptorNotFound is returned when a re-scan fails to locate
	// a descriptor the operation just wrote. Fatal for the same reason
	// as ErrMapInconsistent.
	ErrDescriptorNotFound = errors.New("descriptor not found on re-scan")

	ErrInvalidStride     = errors.New("invalid descriptor stride")
	ErrInvalidAlignment  = errors.New("alignment must be 16, 32 or 64 bytes")
	ErrInvalidRegionType = errors.New("region type is not reclaimable")

	// ErrVirtualMapNotSet is returned by virtual-address operations
	// before a virtual address map has been established.
	ErrVirtualMapNotSet = errors.New("virtual address map not established")
)
