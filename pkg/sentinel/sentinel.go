package sentinel

import "errors"

// Sentinel errors shared by stores, services and the HTTP layer. Stores return
// these wrapped with context; handlers map them to status codes with errors.Is.
//
//   - ErrNotFound: key, session or record is absent (a valid result, not a failure)
//   - ErrExpired: the record exists but its own expiry has passed
//   - ErrUnavailable: the store or a remote collaborator could not be reached
//   - ErrUnauthenticated: the caller's identity could not be verified
//   - ErrForbidden: the caller is verified but not a member of the shop
//   - ErrInconsistent: a multi-key operation only partly applied
//   - ErrInvalidInput: a required argument is missing or malformed
var (
	ErrNotFound        = errors.New("not found")
	ErrExpired         = errors.New("expired")
	ErrUnavailable     = errors.New("unavailable")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrInconsistent    = errors.New("inconsistent state")
	ErrInvalidInput    = errors.New("invalid input")
)
