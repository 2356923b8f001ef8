package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/apperr"
)

// bounded runs fn under a timeout and classifies its failure. Errors that are
// final for the caller keep their kind; everything else is retryable.
func bounded[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	v, err := fn(ctx)
	if err != nil {
		return v, classify(op, err)
	}
	return v, nil
}

func boundedErr(ctx context.Context, d time.Duration, op string, fn func(context.Context) error) error {
	_, err := bounded(ctx, d, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func classify(op string, err error) error {
	switch {
	case apperr.IsValidation(err),
		errors.Is(err, apperr.ErrProviderRejected),
		errors.Is(err, apperr.ErrPaymentIncomplete),
		errors.Is(err, apperr.ErrUnauthenticated):
		return errors.Wrap(err, op)
	default:
		return apperr.Transient(op, err)
	}
}
