package model

import "time"

// HostInfo is the descriptive record a host reports at registration and
// remotes receive after pairing.
type HostInfo struct {
	OS      string `json:"os,omitempty"`
	Browser string `json:"browser,omitempty"`
}

// Session is a point-in-time copy of a paired host instance. The live record
// and its sockets stay inside the store.
type Session struct {
	ID                 string     `json:"id"`
	HostInfo           HostInfo   `json:"hostInfo"`
	HostOnline         bool       `json:"hostOnline"`
	HasPairCode        bool       `json:"hasPairCode"`
	RemoteCount        int        `json:"remoteCount"`
	CreatedAt          time.Time  `json:"createdAt"`
	HostDisconnectedAt *time.Time `json:"hostDisconnectedAt,omitempty"`
}
