package protocol

import (
	"encoding/json"

	"github.com/remotecast/relay-server-go/internal/model"
)

type RegisterHost struct {
	HostToken string          `json:"hostToken"`
	Info      *model.HostInfo `json:"info"`
}

type ExchangePairCode struct {
	Code string `json:"code"`
}

type ValidateSession struct {
	TrustToken string `json:"trustToken"`
}

type UnpairRemote struct {
	RemoteID string `json:"remoteId"`
}

type HostRegistered struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	HostToken string      `json:"hostToken"`
}

type PairCode struct {
	Type MessageType `json:"type"`
	Code string      `json:"code"`
	TTL  int64       `json:"ttl"`
}

type PairSuccess struct {
	Type       MessageType    `json:"type"`
	TrustToken string         `json:"trustToken"`
	SessionID  string         `json:"sessionId"`
	HostInfo   model.HostInfo `json:"hostInfo"`
}

type SessionValid struct {
	Type      MessageType    `json:"type"`
	SessionID string         `json:"sessionId"`
	HostInfo  model.HostInfo `json:"hostInfo"`
}

type RemoteJoined struct {
	Type     MessageType `json:"type"`
	RemoteID string      `json:"remoteId"`
}

type bare struct {
	Type MessageType `json:"type"`
}

// Encode marshals an outbound frame. Outbound frames are plain structs, so a
// failure here is a programming error.
func Encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("protocol: encode outbound frame: " + err.Error())
	}
	return data
}

func Bare(t MessageType) []byte {
	return Encode(bare{Type: t})
}

func NewRemoteJoined(remoteID string) []byte {
	return Encode(RemoteJoined{Type: TypeRemoteJoined, RemoteID: remoteID})
}
