package assistant

import (
	"fmt"
	"strings"
)

// UserProfile carries the per-user knobs that shape the assistant's persona
// and feature set for a session.
type UserProfile struct {
	Name             string
	Role             string
	Strictness       string // e.g. "gentle", "firm", "drill-sergeant"
	Verbosity        string // "concise" or "detailed"
	SubscriptionTier string // "free" or "premium"
}

// Premium reports whether the profile unlocks premium-only tools.
func (p *UserProfile) Premium() bool {
	if p == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(p.SubscriptionTier), "premium")
}

// DefaultPersona is the base system instruction used when the caller does not
// supply one.
const DefaultPersona = "You are Heaven, a sharp and proactive AI chief of staff. " +
	"You manage the user's calendar, inbox, calls, reminders, and long-term memory " +
	"through the tools available to you. Act decisively, confirm destructive actions, " +
	"and keep the user focused on what matters."

// SystemInstruction assembles the full system instruction for a session from
// a base persona and the user's profile. An empty base falls back to
// DefaultPersona; a nil profile returns the base unchanged.
func SystemInstruction(base string, profile *UserProfile) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultPersona
	}
	if profile == nil {
		return base
	}

	var b strings.Builder
	b.WriteString(base)

	if name := strings.TrimSpace(profile.Name); name != "" {
		fmt.Fprintf(&b, "\n\nThe user's name is %s.", name)
	}
	if role := strings.TrimSpace(profile.Role); role != "" {
		fmt.Fprintf(&b, " Their role: %s.", role)
	}
	if strictness := strings.TrimSpace(profile.Strictness); strictness != "" {
		fmt.Fprintf(&b, "\nAccountability style: %s. Hold them to their commitments accordingly.", strictness)
	}
	if strings.EqualFold(strings.TrimSpace(profile.Verbosity), "concise") {
		b.WriteString("\nIMPORTANT: Keep responses extremely brief. One or two sentences. No filler.")
	}
	return b.String()
}
