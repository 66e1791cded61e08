package protocol

import (
	"bytes"
	"encoding/json"
)

// FieldRemoteID is the addressing key injected on the remote to host leg and
// read on the host to remote leg.
const FieldRemoteID = "remoteId"

// Message is an inbound frame that passed validation.
type Message struct {
	Type   MessageType
	Kind   Kind
	Fields map[string]json.RawMessage
	Raw    []byte
}

// Parse is the protocol validator. It returns false for anything that is not
// a JSON object carrying a known inbound type; callers drop such frames
// without replying.
func Parse(raw []byte) (*Message, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, false
	}

	rawType, ok := fields["type"]
	if !ok {
		return nil, false
	}

	var t MessageType
	if err := json.Unmarshal(rawType, &t); err != nil {
		return nil, false
	}

	kind := KindOf(t)
	if kind == KindUnknown {
		return nil, false
	}

	return &Message{Type: t, Kind: kind, Fields: fields, Raw: raw}, true
}

// Decode unmarshals the frame's fields into v. Missing fields keep their
// zero value; fields of the wrong JSON type are an error.
func (m *Message) Decode(v any) error {
	data, err := json.Marshal(m.Fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// RemoteID returns the addressing field, or "" when absent or not a string.
func (m *Message) RemoteID() string {
	raw, ok := m.Fields[FieldRemoteID]
	if !ok {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}

// WithRemoteID re-encodes the frame with remoteId set, overwriting any value
// the sender supplied.
func (m *Message) WithRemoteID(remoteID string) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Fields)+1)
	for k, v := range m.Fields {
		out[k] = v
	}
	id, err := json.Marshal(remoteID)
	if err != nil {
		return nil, err
	}
	out[FieldRemoteID] = id
	return json.Marshal(out)
}
