package model

import "time"

type PairCode struct {
	Code      string    `json:"code"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (p PairCode) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
