// Package lock implements the distributed, self-expiring advisory lock
// contract in spec §4.1: mutual exclusion on a named resource across
// orchestrator replicas, bounded by an acquire timeout, safe against a
// crashed holder wedging the system forever.
package lock

import (
	"context"
	"time"

	apperrors "github.com/kubernaut-deploy/orchestrator/internal/errors"
)

// Handle is returned by a successful AcquireLock. Release is idempotent;
// releasing an already-expired lock must not error, only log (callers pass
// a logger into the concrete backend, not the handle).
type Handle interface {
	Release(ctx context.Context) error
	IsHeld() bool
	Resource() string
}

// Locker is the contract every backend (Postgres advisory lock, Redis
// set-if-absent, in-process semaphore) satisfies identically.
type Locker interface {
	// AcquireLock blocks up to timeout trying to acquire resource. On
	// success it returns a live Handle and a nil error. On timeout it
	// returns a nil Handle and an *errors.AppError of type
	// ErrorTypeLockTimeout — never a bare nil,nil.
	AcquireLock(ctx context.Context, resource string, timeout time.Duration) (Handle, error)
}

// ResourceKey renders the per-(environment,module) lock name the
// orchestrator uses in §4.6 step 3.
func ResourceKey(environment, moduleName string) string {
	return "deploy:" + environment + ":" + moduleName
}

func timeoutError(resource string) error {
	return apperrors.NewLockTimeoutError(resource)
}
