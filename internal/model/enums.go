package model

type LifecycleEvent string

const (
	EventSessionCreated   LifecycleEvent = "session_created"
	EventHostReconnected  LifecycleEvent = "host_reconnected"
	EventHostDisconnected LifecycleEvent = "host_disconnected"
	EventRemotePaired     LifecycleEvent = "remote_paired"
	EventRemoteValidated  LifecycleEvent = "remote_validated"
	EventRemoteRevoked    LifecycleEvent = "remote_revoked"
	EventSessionExpired   LifecycleEvent = "session_expired"
	EventRemoteExpired    LifecycleEvent = "remote_expired"
)
