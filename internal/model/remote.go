package model

import "time"

// RemoteIdentity is a point-in-time copy of one paired remote device.
type RemoteIdentity struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Online    bool      `json:"online"`
	Revoked   bool      `json:"revoked"`
	ExpiresAt time.Time `json:"expiresAt"`
	PairedAt  time.Time `json:"pairedAt"`
}

// Usable reports whether the identity may still authenticate at now.
func (r RemoteIdentity) Usable(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}
