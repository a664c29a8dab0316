package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, the broker layer and the
// platform SDK clients return these (optionally wrapped) so services can
// translate them into user-facing outcomes.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist (row, guild member, VRChat profile)
// - ErrConflict: uniqueness violated (external account already bound)
// - ErrExpired: pending verification past its window
// - ErrForbidden: the platform rejected the call for missing permission
// - ErrNotConfigured: guild has no verification role set up
// - ErrUnavailable: service or resource temporarily unavailable
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrExpired       = errors.New("expired")
	ErrForbidden     = errors.New("forbidden")
	ErrNotConfigured = errors.New("not configured")
	ErrUnavailable   = errors.New("unavailable")
)
