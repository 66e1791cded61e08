package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
		kind Kind
	}{
		{"handshake", `{"type":"REGISTER_HOST"}`, true, KindHandshake},
		{"session", `{"type":"CONTROL_EVENT","action":"play"}`, true, KindSession},
		{"surrounding whitespace", "  {\"type\":\"MEDIA_LIST\"}\n", true, KindSession},
		{"not json", `hello`, false, KindUnknown},
		{"truncated json", `{"type":"REGISTER_HOST"`, false, KindUnknown},
		{"array", `[{"type":"REGISTER_HOST"}]`, false, KindUnknown},
		{"null", `null`, false, KindUnknown},
		{"missing type", `{"code":"ABCDEF"}`, false, KindUnknown},
		{"non string type", `{"type":7}`, false, KindUnknown},
		{"unknown type", `{"type":"FORMAT_DISK"}`, false, KindUnknown},
		{"server only type", `{"type":"HOST_REGISTERED","sessionId":"x"}`, false, KindUnknown},
		{"lowercase type", `{"type":"register_host"}`, false, KindUnknown},
		{"empty", ``, false, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Parse([]byte(tt.raw))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				require.NotNil(t, msg)
				assert.Equal(t, tt.kind, msg.Kind)
			} else {
				assert.Nil(t, msg)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	for _, typ := range []MessageType{
		TypeRegisterHost, TypeRequestPairCode, TypeExchangePairCode, TypeValidateSession, TypeUnpairRemote,
	} {
		assert.Equal(t, KindHandshake, KindOf(typ), typ)
	}
	for _, typ := range []MessageType{
		TypeMediaList, TypeMediaState, TypeSelectActiveTab, TypeStateUpdate,
		TypeControlEvent, TypeControlSet, TypeControlReport, TypeNewTab,
	} {
		assert.Equal(t, KindSession, KindOf(typ), typ)
	}
	for _, typ := range []MessageType{
		TypeHostRegistered, TypePairCode, TypePairSuccess, TypePairFailed, TypeSessionValid,
		TypeSessionInvalid, TypeRemoteJoined, TypeHostDisconnected, TypeHostReconnected,
	} {
		assert.Equal(t, KindUnknown, KindOf(typ), typ)
	}
}

func TestMessage_Decode(t *testing.T) {
	t.Run("fills known fields", func(t *testing.T) {
		msg, ok := Parse([]byte(`{"type":"REGISTER_HOST","hostToken":"abc","info":{"os":"mac","browser":"chrome"}}`))
		require.True(t, ok)

		var req RegisterHost
		require.NoError(t, msg.Decode(&req))
		assert.Equal(t, "abc", req.HostToken)
		require.NotNil(t, req.Info)
		assert.Equal(t, "mac", req.Info.OS)
	})

	t.Run("missing field stays empty", func(t *testing.T) {
		msg, _ := Parse([]byte(`{"type":"EXCHANGE_PAIR_CODE"}`))

		var req ExchangePairCode
		require.NoError(t, msg.Decode(&req))
		assert.Empty(t, req.Code)
	})

	t.Run("wrong field type is an error", func(t *testing.T) {
		msg, _ := Parse([]byte(`{"type":"VALIDATE_SESSION","trustToken":{"$ne":null}}`))

		var req ValidateSession
		assert.Error(t, msg.Decode(&req))
	})
}

func TestMessage_RemoteID(t *testing.T) {
	msg, _ := Parse([]byte(`{"type":"MEDIA_STATE","remoteId":"r-1"}`))
	assert.Equal(t, "r-1", msg.RemoteID())

	msg, _ = Parse([]byte(`{"type":"MEDIA_STATE","remoteId":5}`))
	assert.Empty(t, msg.RemoteID())

	msg, _ = Parse([]byte(`{"type":"MEDIA_STATE"}`))
	assert.Empty(t, msg.RemoteID())
}

func TestMessage_WithRemoteID(t *testing.T) {
	t.Run("overwrites a client supplied value", func(t *testing.T) {
		msg, _ := Parse([]byte(`{"type":"CONTROL_EVENT","remoteId":"forged","volume":0.5}`))

		out, err := msg.WithRemoteID("real")
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal(out, &got))
		assert.Equal(t, "real", got["remoteId"])
		assert.Equal(t, "CONTROL_EVENT", got["type"])
		assert.Equal(t, 0.5, got["volume"])
		assert.Equal(t, "forged", msg.RemoteID(), "original message is untouched")
	})

	t.Run("adds the field when absent", func(t *testing.T) {
		msg, _ := Parse([]byte(`{"type":"NEW_TAB","url":"https://example.com"}`))

		out, err := msg.WithRemoteID("r-2")
		require.NoError(t, err)
		assert.Contains(t, string(out), `"remoteId":"r-2"`)
	})
}

func TestOutboundFrames(t *testing.T) {
	assert.JSONEq(t, `{"type":"PAIR_FAILED"}`, string(Bare(TypePairFailed)))
	assert.JSONEq(t, `{"type":"REMOTE_JOINED","remoteId":"abc"}`, string(NewRemoteJoined("abc")))
	assert.JSONEq(t,
		`{"type":"PAIR_CODE","code":"ABC234","ttl":60000}`,
		string(Encode(PairCode{Type: TypePairCode, Code: "ABC234", TTL: 60000})),
	)
}
