package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	apperrors "github.com/tophergates/mws-restaurant-reviews/pkg/errors"
)

const (
	sourceNetwork = "network"
	sourceStore   = "store"
	sourceNone    = "none"
)

// read describes one resource read from both sources.
type read[T any] struct {
	resource string
	fetch    func(ctx context.Context) (T, error)
	load     func(ctx context.Context) (T, bool, error)
	empty    func(T) bool
	save     func(ctx context.Context, v T) error
}

// resolve runs the network fetch and the store load concurrently, waits for
// both, then picks a result: a non-empty network result (written back to the
// store), else a non-empty store result, else an empty network result, else
// a data-unavailable error. A configuration error is returned as is.
func resolve[T any](ctx context.Context, s *RestaurantService, r read[T]) (T, error) {
	var (
		netVal   T
		netErr   error
		localVal T
		found    bool
		localErr error
		wg       sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		netVal, netErr = r.fetch(ctx)
	}()
	go func() {
		defer wg.Done()
		localVal, found, localErr = r.load(ctx)
	}()
	wg.Wait()

	if errors.Is(netErr, apperrors.ErrConfig) {
		return netVal, netErr
	}

	if netErr == nil && !r.empty(netVal) {
		if err := r.save(ctx, netVal); err != nil {
			s.logStoreWrite(ctx, r.resource, err)
		}
		resolutionTotal.WithLabelValues(r.resource, sourceNetwork).Inc()
		return netVal, nil
	}

	if netErr != nil {
		s.noteNetworkFailure(ctx, r.resource, netErr)
	}
	if localErr != nil {
		s.logger.WarnContext(ctx, "store read failed",
			slog.String("resource", r.resource),
			slog.String("error", localErr.Error()),
		)
	}

	if localErr == nil && found && !r.empty(localVal) {
		resolutionTotal.WithLabelValues(r.resource, sourceStore).Inc()
		return localVal, nil
	}

	// Nothing failed, there is just nothing to return.
	if netErr == nil {
		resolutionTotal.WithLabelValues(r.resource, sourceNetwork).Inc()
		return netVal, nil
	}

	resolutionTotal.WithLabelValues(r.resource, sourceNone).Inc()
	var zero T
	return zero, apperrors.DataUnavailable(r.resource, netErr, localErr)
}

func (s *RestaurantService) noteNetworkFailure(ctx context.Context, resource string, err error) {
	if apperrors.IsNetwork(err) {
		s.conn.MarkOffline()
	}
	s.logger.InfoContext(ctx, "network read failed, falling back to store",
		slog.String("resource", resource),
		slog.String("error", err.Error()),
	)
}

func (s *RestaurantService) logStoreWrite(ctx context.Context, collection string, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		err = apperrors.StoreWriteError(collection, err)
	}
	s.logger.ErrorContext(ctx, "store write failed",
		slog.String("collection", collection),
		slog.String("error", err.Error()),
	)
}

func listLoader[T any](load func(ctx context.Context) ([]T, error)) func(context.Context) ([]T, bool, error) {
	return func(ctx context.Context) ([]T, bool, error) {
		v, err := load(ctx)
		return v, err == nil, err
	}
}

func emptySlice[T any](v []T) bool { return len(v) == 0 }
