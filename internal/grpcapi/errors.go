package grpcapi

import (
	"context"
	"errors"

	"github.com/signalsfoundry/conveyor-simulator/core"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrInvalidArgument marks malformed request messages.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOutOfBounds marks coordinates outside the configured grid.
	ErrOutOfBounds = errors.New("coordinate outside the grid")
)

// ToStatusError maps service and engine errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrOutOfBounds),
		errors.Is(err, core.ErrInvalidParams):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
