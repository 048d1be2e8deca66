package api

import (
	"context"
	"errors"

	"github.com/matheus3301/inbox/internal/optimistic"
	"github.com/matheus3301/inbox/internal/remote"
	intsync "github.com/matheus3301/inbox/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps an application error to a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch {
	case errors.Is(err, intsync.ErrInvalidDraft):
		code = codes.InvalidArgument
	case errors.Is(err, intsync.ErrUnknownUser):
		code = codes.NotFound
	case errors.Is(err, intsync.ErrConversationExists), remote.IsConflict(err):
		code = codes.AlreadyExists
	case optimistic.IsRolledBack(err):
		code = codes.Unavailable
	case remote.IsNotFound(err):
		code = codes.NotFound
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return grpcstatus.Error(code, err.Error())
}

func invalidArgument(format string, args ...any) error {
	return grpcstatus.Errorf(codes.InvalidArgument, format, args...)
}
