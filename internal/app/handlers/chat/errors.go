package chat

import (
	"errors"

	"storefront/internal/app/notify"
)

// Failure classes surfaced by chat operations. Callers match them with errors.Is;
// the underlying cause stays wrapped.
var (
	ErrUnauthorized     = errors.New("chat: unauthorized")
	ErrForbidden        = errors.New("chat: forbidden")
	ErrNotFound         = errors.New("chat: not found")
	ErrInvalidInput     = errors.New("chat: invalid input")
	ErrNoAdminAvailable = errors.New("chat: no admin available")
	ErrTransportFailure = notify.ErrTransport
)
