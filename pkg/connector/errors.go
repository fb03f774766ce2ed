// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"
	"fmt"
)

// ErrFatal marks errors that end the current bridge lifetime. The supervisor
// starts a fresh lifetime after one is returned.
var ErrFatal = errors.New("fatal bridge error")

// ErrRosterAnomaly is returned when a roster update does not belong to the
// bridge's own account.
var ErrRosterAnomaly = fmt.Errorf("%w: roster update for foreign account", ErrFatal)

// UnmappedIdentityError is returned by Resolve when no room is mapped to the
// identity.
type UnmappedIdentityError struct {
	Identity Identity
}

func (e *UnmappedIdentityError) Error() string {
	return fmt.Sprintf("no room mapped to %s", e.Identity)
}

// IsFatal reports whether err should terminate the dispatch loop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
