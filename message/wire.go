package message

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agilemobiledev/errai/errors"
)

// wireHeader is the fixed portion of the JSON wire format. Parts are encoded
// separately so their insertion order survives the round trip.
type wireHeader struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Sender    string `json:"sender,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// MarshalJSON encodes the message for transport. Parts are written in
// insertion order. The SessionData part is server-side state and is always
// omitted from the wire.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	header, err := json.Marshal(wireHeader{
		ID:        m.id,
		Subject:   m.subject,
		Sender:    m.sender,
		CreatedAt: m.createdAt.UnixMilli(),
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "CommandMessage", "MarshalJSON", "header encoding")
	}

	var buf bytes.Buffer
	// Splice the parts object into the header object.
	buf.Write(header[:len(header)-1])
	buf.WriteString(`,"parts":{`)

	first := true
	for _, part := range m.order {
		if part == SessionData {
			continue
		}
		value, err := json.Marshal(m.parts[part])
		if err != nil {
			return nil, errors.WrapInvalid(err, "CommandMessage", "MarshalJSON", "part "+string(part))
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(string(part))
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a wire message, preserving part order. Unknown part
// keys are kept as-is so intermediaries can forward messages they do not
// understand.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	var header wireHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return errors.WrapInvalid(err, "CommandMessage", "UnmarshalJSON", "header decoding")
	}
	if header.Subject == "" {
		return errors.WrapInvalid(errors.ErrNoSubject, "CommandMessage", "UnmarshalJSON", "subject check")
	}

	m.id = header.ID
	m.subject = header.Subject
	m.sender = header.Sender
	m.createdAt = time.UnixMilli(header.CreatedAt)
	m.order = nil
	m.parts = make(map[Part]any)

	var envelope struct {
		Parts json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return errors.WrapInvalid(err, "CommandMessage", "UnmarshalJSON", "envelope decoding")
	}
	if len(envelope.Parts) == 0 {
		return nil
	}

	// Walk the parts object token by token so insertion order is preserved.
	dec := json.NewDecoder(bytes.NewReader(envelope.Parts))
	tok, err := dec.Token()
	if err != nil {
		return errors.WrapInvalid(err, "CommandMessage", "UnmarshalJSON", "parts decoding")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.WrapInvalid(errors.ErrInvalidData, "CommandMessage", "UnmarshalJSON", "parts object check")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return errors.WrapInvalid(err, "CommandMessage", "UnmarshalJSON", "part key decoding")
		}
		key, ok := keyTok.(string)
		if !ok {
			return errors.WrapInvalid(errors.ErrInvalidData, "CommandMessage", "UnmarshalJSON", "part key check")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return errors.WrapInvalid(err, "CommandMessage", "UnmarshalJSON", "part "+key)
		}
		// SessionData never crosses the wire; drop it if a client sends one.
		if Part(key) == SessionData {
			continue
		}
		m.Set(Part(key), value)
	}
	return nil
}

// Decode parses a wire frame into a CommandMessage.
func Decode(data []byte) (*CommandMessage, error) {
	m := &CommandMessage{}
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	if m.id == "" {
		m.id = uuid.New().String()
	}
	return m, nil
}
