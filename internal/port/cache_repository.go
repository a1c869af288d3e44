package port

import "context"

// Locker is the process-wide mutual exclusion behind the concurrency gate.
type Locker interface {
	// Lock blocks until the lock is held or ctx is done; unlock must always be called
	Lock(ctx context.Context) (unlock func(), err error)
}

type IdempotencyStore interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)
}
