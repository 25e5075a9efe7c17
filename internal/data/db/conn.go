package db

import (
	"context"

	"gorm.io/gorm"
)

// Conn resolves the working database handle per call. Production code
// passes the Gateway, so a forced reconnect reaches every subsequent
// query instead of leaving callers on a closed handle.
type Conn interface {
	Handle(ctx context.Context, skipWarmupWait bool) (*gorm.DB, error)
	ObserveError(err error) bool
}

type fixedConn struct {
	handle *gorm.DB
}

// Fixed wraps a static handle as a Conn. Used by tests and tx-scoped
// helpers; it never reconnects.
func Fixed(handle *gorm.DB) Conn {
	return fixedConn{handle: handle}
}

func (c fixedConn) Handle(_ context.Context, _ bool) (*gorm.DB, error) {
	if c.handle == nil {
		return nil, ErrNotReady
	}
	return c.handle, nil
}

func (c fixedConn) ObserveError(error) bool { return false }
