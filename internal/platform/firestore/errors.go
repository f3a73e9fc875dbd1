package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MeltyDeays/AgroApp-sub000/internal/repositories"
)

// codeKinds maps Firestore RPC codes onto store error kinds. Aborted is what a
// transaction returns when a document it read was changed by another writer.
var codeKinds = map[codes.Code]repositories.StoreErrorKind{
	codes.NotFound:           repositories.StoreErrorNotFound,
	codes.AlreadyExists:      repositories.StoreErrorConflict,
	codes.Aborted:            repositories.StoreErrorConflict,
	codes.FailedPrecondition: repositories.StoreErrorConflict,
	codes.OutOfRange:         repositories.StoreErrorConflict,
	codes.Unavailable:        repositories.StoreErrorUnavailable,
	codes.ResourceExhausted:  repositories.StoreErrorUnavailable,
	codes.Internal:           repositories.StoreErrorUnavailable,
}

// WrapError turns a Firestore RPC failure into a *repositories.StoreError tagged with op.
// Errors raised by transaction callbacks (service sentinels, InsufficientStockError) are
// returned unchanged, and RPC cancellations come back as the context errors.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		if storeErr.Op == "" {
			storeErr.Op = op
		}
		return err
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	kind, known := codeKinds[st.Code()]
	if !known {
		kind = repositories.StoreErrorBackend
	}
	return &repositories.StoreError{Op: op, Kind: kind, Message: st.Code().String(), Err: err}
}
