package collaboration

import "errors"

// Domain errors for collaboration module.
var (
	// ErrRemoteUnavailable is returned by operations that need the remote
	// document store when none is configured.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// Permission errors
	ErrInvalidRole = errors.New("invalid role")

	// Invitation errors
	ErrInvitationNotFound         = errors.New("invitation not found")
	ErrInvitationExpired          = errors.New("invitation has expired")
	ErrInvitationAlreadyProcessed = errors.New("invitation has already been processed")
	ErrInvitationMaxUsesReached   = errors.New("invitation has reached maximum uses")
	ErrInvitationNotForYou        = errors.New("invitation is not for you")
)
