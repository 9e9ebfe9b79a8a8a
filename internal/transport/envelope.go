package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the unit exchanged on the broker.
//
// On the wire it is a JSON object:
//
//	{"headers":{...},"subject":"...","access_id":"mqtt","extra":{...},"content":<any JSON>}
//
// Content is carried byte for byte: Encode splices it in unchanged and
// Decode returns it as the json.RawMessage found on the wire.
type Envelope struct {
	Headers  map[string]string
	Subject  string
	Content  any
	AccessID string
	Extra    *Extra
}

// wireHeader is every field but content.
type wireHeader struct {
	Headers  map[string]string `json:"headers,omitempty"`
	Subject  string            `json:"subject"`
	AccessID string            `json:"access_id,omitempty"`
	Extra    *Extra            `json:"extra,omitempty"`
}

type wireEnvelope struct {
	wireHeader
	Content json.RawMessage `json:"content"`
}

// Encode serializes e. Content that is a json.RawMessage must already be
// valid JSON; anything else goes through json.Marshal. Failures, and an
// empty subject, wrap ErrSerialization.
func Encode(e Envelope) ([]byte, error) {
	if e.Subject == "" {
		return nil, fmt.Errorf("%w: envelope has no subject", ErrSerialization)
	}

	content, err := encodeContent(e.Content)
	if err != nil {
		return nil, err
	}

	head, err := json.Marshal(wireHeader{
		Headers:  e.Headers,
		Subject:  e.Subject,
		AccessID: e.AccessID,
		Extra:    e.Extra,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	// head always ends with '}'; json.Marshal would compact content, so
	// it is appended by hand.
	var buf bytes.Buffer
	buf.Grow(len(head) + len(content) + len(`,"content":`))
	buf.Write(head[:len(head)-1])
	buf.WriteString(`,"content":`)
	buf.Write(content)
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func encodeContent(content any) ([]byte, error) {
	switch c := content.(type) {
	case nil:
		return []byte("null"), nil
	case json.RawMessage:
		if !json.Valid(c) {
			return nil, fmt.Errorf("%w: content is not valid JSON", ErrSerialization)
		}
		return c, nil
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("%w: content: %w", ErrSerialization, err)
		}
		return data, nil
	}
}

// Decode parses an envelope. Content is returned as json.RawMessage
// (nil when absent). Failures wrap ErrSerialization.
func Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if w.Subject == "" {
		return Envelope{}, fmt.Errorf("%w: envelope has no subject", ErrSerialization)
	}

	env := Envelope{
		Headers:  w.Headers,
		Subject:  w.Subject,
		AccessID: w.AccessID,
		Extra:    w.Extra,
	}
	if w.Content != nil {
		env.Content = w.Content
	}

	return env, nil
}
