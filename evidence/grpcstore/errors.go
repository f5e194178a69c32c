package grpcstore

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/escrowsync/evidence"
)

// toStatus maps store errors onto gRPC codes on the server side.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, evidence.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, evidence.ErrInvalidCID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, evidence.ErrCIDMismatch):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, evidence.ErrImmutable):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus maps gRPC codes back onto store errors on the client side.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return evidence.ErrNotFound
	case codes.InvalidArgument:
		return evidence.ErrInvalidCID
	case codes.DataLoss:
		return evidence.ErrCIDMismatch
	case codes.AlreadyExists:
		return evidence.ErrImmutable
	default:
		return err
	}
}
