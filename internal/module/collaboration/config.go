package collaboration

import (
	"strings"
	"time"
)

// Config holds collaboration configuration.
type Config struct {
	// InvitationExpiry is how long an invitation is valid.
	InvitationExpiry time.Duration

	// DefaultLinkMaxUses caps link invitations created without a limit.
	DefaultLinkMaxUses int

	// BaseURL is the base URL for invitation links.
	BaseURL string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		InvitationExpiry:   7 * 24 * time.Hour, // 7 days
		DefaultLinkMaxUses: 10,
		BaseURL:            "",
	}
}

// Normalize fills unset limits with their defaults and trims the trailing
// slash from BaseURL.
func (c *Config) Normalize() {
	if c.InvitationExpiry <= 0 {
		c.InvitationExpiry = 7 * 24 * time.Hour
	}
	if c.DefaultLinkMaxUses <= 0 {
		c.DefaultLinkMaxUses = 10
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// InvitationLink returns the join URL of an invitation.
func InvitationLink(baseURL, invitationID string) string {
	return strings.TrimRight(baseURL, "/") + "/join/" + invitationID
}

// IsInvitationExpired reports whether expiresAt lies before now.
func IsInvitationExpired(expiresAt, now time.Time) bool {
	return expiresAt.Before(now)
}
