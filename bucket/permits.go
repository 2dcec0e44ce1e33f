package bucket

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// permits holds the optional two-tier concurrency caps: a
// process-wide semaphore and a per-bucket one. A controller acquires
// exactly one permit per public call; the global one takes precedence
// when both are configured.
type permits struct {
	global *semaphore.Weighted
	local  *semaphore.Weighted
}

// acquireOne acquires a single permit (global first, then local, then
// none if neither is configured) and returns a release func that is
// always safe to call exactly once.
func (p permits) acquireOne(ctx context.Context) (release func(), err error) {
	switch {
	case p.global != nil:
		if err := p.global.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return func() { p.global.Release(1) }, nil
	case p.local != nil:
		if err := p.local.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return func() { p.local.Release(1) }, nil
	default:
		return func() {}, nil
	}
}
