// internal/errors/mapper.go
package errors

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

// Map converts classified errors into gRPC-friendly status errors.
// The status message is the user-facing text from Message.
func Map(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	msg := Message(err)
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, msg)

	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return status.Error(codes.NotFound, msg)

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request was canceled")
	}

	switch Classify(err) {
	case KindConflict:
		return status.Error(codes.AlreadyExists, msg)
	case KindIntegrity:
		return status.Error(codes.FailedPrecondition, msg)
	case KindAuthorization:
		return status.Error(codes.PermissionDenied, msg)
	case KindConnectivity:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}

// InvalidArgument creates a gRPC InvalidArgument error.
// Use this in the transport layer for malformed requests.
func InvalidArgument(msg string) error {
	return status.Error(codes.InvalidArgument, msg)
}

// Unauthenticated creates a gRPC Unauthenticated error.
func Unauthenticated(msg string) error {
	return status.Error(codes.Unauthenticated, msg)
}
