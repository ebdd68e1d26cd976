package lookup

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error is a classified lookup failure. Permanent failures (for example an
// invalid argument rejection) are not retried by background refresh logic;
// only an explicit re-request tries again.
type Error struct {
	Err       error
	Permanent bool
}

func (e *Error) Error() string {
	return "route lookup failed: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify wraps err with a transient/permanent classification derived from
// its gRPC status code. Non-status errors and timeouts are transient.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}

	permanent := false
	var ite *InvalidTargetError
	switch {
	case errors.As(err, &ite):
		permanent = true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		permanent = false
	default:
		if st, ok := status.FromError(err); ok {
			switch st.Code() {
			case codes.InvalidArgument,
				codes.NotFound,
				codes.PermissionDenied,
				codes.Unauthenticated,
				codes.FailedPrecondition,
				codes.OutOfRange,
				codes.Unimplemented:
				permanent = true
			}
		}
	}
	return &Error{Err: err, Permanent: permanent}
}

// IsPermanent reports whether err carries a permanent classification.
func IsPermanent(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Permanent
	}
	return false
}
