package credentials

import "time"

// TimeLayout is the ISO-8601 UTC format the credentials file uses for
// expiresAt: milliseconds precision with a trailing Z (spec §6).
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Record is the in-memory credential record C3 owns (spec §3).
// ExpiresAt is nil when the upstream refresh response omitted it —
// "unknown" is a permitted state, not an error.
type Record struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	ProfileArn   string
	Region       string
}

// NeedsRefresh reports whether the record is missing a token or within
// threshold of expiry. An unknown ExpiresAt never triggers a
// proactive refresh on its own.
func (r Record) NeedsRefresh(threshold time.Duration) bool {
	if r.AccessToken == "" {
		return true
	}
	if r.ExpiresAt == nil {
		return false
	}
	return time.Until(*r.ExpiresAt) <= threshold
}
