package oc

import (
	"context"
	"errors"

	"github.com/efikit/memmap/internal/mapmgr"
	"go.opencensus.io/trace"
)

func toStatusCode(err error) int32 {
	switch {
	case checkErrors(err, context.Canceled):
		return trace.StatusCodeCancelled
	case checkErrors(err, context.DeadlineExceeded):
		return trace.StatusCodeDeadlineExceeded
	case checkErrors(err, mapmgr.ErrNotEnoughSpace):
		return trace.StatusCodeResourceExhausted
	case checkErrors(err, mapmgr.ErrDescriptorNotFound):
		return trace.StatusCodeNotFound
	case checkErrors(err, mapmgr.ErrMapInconsistent):
		return trace.StatusCodeDataLoss
	case checkErrors(err, mapmgr.ErrInvalidAlignment, mapmgr.ErrInvalidRegionType, mapmgr.ErrInvalidStride):
		return trace.StatusCodeInvalidArgument
	case checkErrors(err, mapmgr.ErrVirtualMapNotSet):
		return trace.StatusCodeFailedPrecondition
	default:
		return trace.StatusCodeUnknown
	}
}

func checkErrors(err error, errs ...error) bool {
	for _, e := range errs {
		if errors.Is(err, e) {
			return true
		}
	}

	return false
}
