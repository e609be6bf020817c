package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
)

// wrapStoreErr classifies timeouts and lost connections as ErrUnavailable so
// callers can answer 503 instead of a misleading 500. Other errors pass
// through untouched; sql.ErrNoRows in particular keeps its identity.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
