package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/apperr"
)

var errHeld = errors.New("lock held by another request")

// Guard acquires a key with jittered backoff for at most a bounded wait, then gives up with SystemBusy.
type Guard struct {
	locker Locker
	logger *slog.Logger
}

func NewGuard(locker Locker, logger *slog.Logger) *Guard {
	return &Guard{locker: locker, logger: logger}
}

// Acquire returns a release func that must be called on every exit path.
func (g *Guard) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.RandomizationFactor = 0.5

	token, err := backoff.Retry(ctx, func() (string, error) {
		token, ok, err := g.locker.Acquire(ctx, key, ttl)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		if !ok {
			return "", errHeld
		}
		return token, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(wait))
	if err != nil {
		return nil, apperr.Wrap(apperr.SystemBusy, err, "slot is being booked by another request, retry shortly")
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := g.locker.Release(releaseCtx, key, token); err != nil && g.logger != nil {
			g.logger.Warn("lock release failed", "key", key, "err", err)
		}
	}, nil
}
