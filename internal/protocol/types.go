// Package protocol defines the JSON frame vocabulary spoken on the relay
// WebSocket and the validator that guards the stateful handlers from
// anything outside it.
package protocol

type MessageType string

// Handshake requests.
const (
	TypeRegisterHost     MessageType = "REGISTER_HOST"
	TypeRequestPairCode  MessageType = "REQUEST_PAIR_CODE"
	TypeExchangePairCode MessageType = "EXCHANGE_PAIR_CODE"
	TypeValidateSession  MessageType = "VALIDATE_SESSION"
	TypeUnpairRemote     MessageType = "UNPAIR_REMOTE"
)

// Server-originated frames. These are never accepted inbound.
const (
	TypeHostRegistered   MessageType = "HOST_REGISTERED"
	TypePairCode         MessageType = "PAIR_CODE"
	TypePairSuccess      MessageType = "PAIR_SUCCESS"
	TypePairFailed       MessageType = "PAIR_FAILED"
	TypeSessionValid     MessageType = "SESSION_VALID"
	TypeSessionInvalid   MessageType = "SESSION_INVALID"
	TypeRemoteJoined     MessageType = "REMOTE_JOINED"
	TypeHostDisconnected MessageType = "HOST_DISCONNECTED"
	TypeHostReconnected  MessageType = "HOST_RECONNECTED"
)

// Session messages relayed between host and remotes.
const (
	TypeMediaList       MessageType = "MEDIA_LIST"
	TypeMediaState      MessageType = "MEDIA_STATE"
	TypeSelectActiveTab MessageType = "SELECT_ACTIVE_TAB"
	TypeStateUpdate     MessageType = "STATE_UPDATE"
	TypeControlEvent    MessageType = "CONTROL_EVENT"
	TypeControlSet      MessageType = "CONTROL_SET"
	TypeControlReport   MessageType = "CONTROL_REPORT"
	TypeNewTab          MessageType = "NEW_TAB"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindHandshake
	KindSession
)

var inbound = map[MessageType]Kind{
	TypeRegisterHost:     KindHandshake,
	TypeRequestPairCode:  KindHandshake,
	TypeExchangePairCode: KindHandshake,
	TypeValidateSession:  KindHandshake,
	TypeUnpairRemote:     KindHandshake,

	TypeMediaList:       KindSession,
	TypeMediaState:      KindSession,
	TypeSelectActiveTab: KindSession,
	TypeStateUpdate:     KindSession,
	TypeControlEvent:    KindSession,
	TypeControlSet:      KindSession,
	TypeControlReport:   KindSession,
	TypeNewTab:          KindSession,
}

// KindOf classifies an inbound type. Server-originated and unknown types
// both yield KindUnknown.
func KindOf(t MessageType) Kind {
	return inbound[t]
}

// Role is bound onto a connection by the handshake and never changes.
type Role string

const (
	RoleUnset  Role = ""
	RoleHost   Role = "HOST"
	RoleRemote Role = "REMOTE"
)
