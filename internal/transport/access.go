package transport

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AccessID identifies this transport among the others registered with the bus.
const AccessID = "mqtt"

// PeerAddress is how a remote peer is reached over MQTT.
// It is an immutable value; equality covers all four fields.
type PeerAddress struct {
	Host     string
	Port     int
	ClientID string
	Topic    string
}

// AccessID implements herald.Access.
func (a PeerAddress) AccessID() string {
	return AccessID
}

// Dump implements herald.Access: [host, port, client_id, topic].
func (a PeerAddress) Dump() any {
	return []any{a.Host, a.Port, a.ClientID, a.Topic}
}

// LoadPeerAddress rebuilds a PeerAddress from a dump.
//
// Accepted forms are the 4-element list produced by Dump (as decoded from
// JSON, so the port may be a number or a numeric string) and a map with
// the keys host, port, client_id and topic.
func LoadPeerAddress(data any) (PeerAddress, error) {
	switch v := data.(type) {
	case PeerAddress:
		return v, nil
	case *PeerAddress:
		if v == nil {
			return PeerAddress{}, ErrInvalidAccessDump
		}
		return *v, nil
	case []any:
		return loadList(v)
	case []string:
		list := make([]any, len(v))
		for i, s := range v {
			list[i] = s
		}
		return loadList(list)
	case map[string]any:
		return loadMap(v)
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return PeerAddress{}, fmt.Errorf("%w: %w", ErrInvalidAccessDump, err)
		}
		return LoadPeerAddress(decoded)
	default:
		return PeerAddress{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidAccessDump, data)
	}
}

func loadList(list []any) (PeerAddress, error) {
	if len(list) != 4 {
		return PeerAddress{}, fmt.Errorf("%w: expected 4 elements, got %d", ErrInvalidAccessDump, len(list))
	}

	host, ok1 := list[0].(string)
	clientID, ok2 := list[2].(string)
	topic, ok3 := list[3].(string)
	if !ok1 || !ok2 || !ok3 {
		return PeerAddress{}, fmt.Errorf("%w: host, client_id and topic must be strings", ErrInvalidAccessDump)
	}

	port, err := parsePort(list[1])
	if err != nil {
		return PeerAddress{}, err
	}

	return PeerAddress{Host: host, Port: port, ClientID: clientID, Topic: topic}, nil
}

func loadMap(m map[string]any) (PeerAddress, error) {
	var addr PeerAddress
	var ok bool

	if v, present := m["host"]; present {
		if addr.Host, ok = v.(string); !ok {
			return PeerAddress{}, fmt.Errorf("%w: host must be a string", ErrInvalidAccessDump)
		}
	}
	if v, present := m["client_id"]; present {
		if addr.ClientID, ok = v.(string); !ok {
			return PeerAddress{}, fmt.Errorf("%w: client_id must be a string", ErrInvalidAccessDump)
		}
	}
	if v, present := m["topic"]; present {
		if addr.Topic, ok = v.(string); !ok {
			return PeerAddress{}, fmt.Errorf("%w: topic must be a string", ErrInvalidAccessDump)
		}
	}

	port, err := parsePort(m["port"])
	if err != nil {
		return PeerAddress{}, err
	}
	addr.Port = port

	return addr, nil
}

// parsePort accepts the port encodings seen in dumps. Missing or empty
// values mean no port.
func parsePort(v any) (int, error) {
	var port int

	switch p := v.(type) {
	case nil:
		return 0, nil
	case int:
		port = p
	case int64:
		port = int(p)
	case float64:
		if p != math.Trunc(p) {
			return 0, fmt.Errorf("%w: port %v is not an integer", ErrInvalidAccessDump, p)
		}
		port = int(p)
	case json.Number:
		n, err := p.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: port %q: %w", ErrInvalidAccessDump, p, err)
		}
		port = int(n)
	case string:
		s := strings.TrimSpace(p)
		if s == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%w: port %q: %w", ErrInvalidAccessDump, p, err)
		}
		port = n
	default:
		return 0, fmt.Errorf("%w: unsupported port type %T", ErrInvalidAccessDump, v)
	}

	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("%w: port %d out of range", ErrInvalidAccessDump, port)
	}
	return port, nil
}

// Extra is the per-call return address attached to envelopes and passed
// back to Fire to answer on the same path. It is never persisted.
type Extra struct {
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Topic     string `json:"topic,omitempty"`
	ParentUID string `json:"parent_uid,omitempty"`
}

// extraFrom accepts the forms Fire callers pass. Anything else is ignored.
func extraFrom(v any) *Extra {
	switch e := v.(type) {
	case *Extra:
		return e
	case Extra:
		return &e
	default:
		return nil
	}
}
