package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/herald-mqtt/internal/herald"
)

// Subjects of the description handshake.
const (
	SubjectNewcomer = "herald/directory/newcomer"
	SubjectWelcome  = "herald/directory/welcome"
	SubjectBye      = "herald/directory/bye"

	// GroupAll is the group every peer joins.
	GroupAll = "all"
)

// handshakeTimeout bounds the directory update made for one message.
const handshakeTimeout = 5 * time.Second

// Sender is the transport the handshake answers through.
// *transport.Transport implements it.
type Sender interface {
	Fire(peer *herald.Peer, msg *herald.Message, extra any) error
	Broadcast(group string, msg *herald.Message) error
	UpdateDescription(msg *herald.MessageReceived, desc herald.Description) herald.Description
}

// Handshake exchanges peer descriptions so that peers learn each other's
// accesses:
//
//   - Announce broadcasts a newcomer message with the local description.
//   - A newcomer is registered and answered with a welcome carrying the
//     local description, decorated by the transport it arrived on.
//   - A welcome is registered.
//   - A bye makes the sender forgotten.
//
// Messages with other subjects go to the fallback core.
type Handshake struct {
	dir      *Directory
	fallback herald.Core

	logger   Logger
	loggerMu sync.RWMutex

	mu     sync.RWMutex
	sender Sender
}

var _ herald.Core = (*Handshake)(nil)

// NewHandshake creates a handshake over dir. fallback may be nil.
func NewHandshake(dir *Directory, fallback herald.Core) *Handshake {
	if fallback == nil {
		fallback = herald.CoreFunc(func(*herald.MessageReceived) {})
	}
	return &Handshake{
		dir:      dir,
		fallback: fallback,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the handshake. It may be called at any
// time, also while messages are being handled.
func (h *Handshake) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

func (h *Handshake) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

// SetSender attaches the transport. The transport is usually created with
// the handshake as its core, so it cannot be a constructor argument.
func (h *Handshake) SetSender(sender Sender) {
	h.mu.Lock()
	h.sender = sender
	h.mu.Unlock()
}

func (h *Handshake) getSender() Sender {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sender
}

// Announce broadcasts the local description to group.
func (h *Handshake) Announce(group string) error {
	sender := h.getSender()
	if sender == nil {
		return errors.New("directory: handshake has no sender")
	}
	return sender.Broadcast(group, herald.NewMessage(SubjectNewcomer, h.dir.Description()))
}

// Bye tells group the local peer is leaving.
func (h *Handshake) Bye(group string) error {
	sender := h.getSender()
	if sender == nil {
		return errors.New("directory: handshake has no sender")
	}
	return sender.Broadcast(group, herald.NewMessage(SubjectBye, h.dir.LocalPeer().UID()))
}

// HandleMessage implements herald.Core.
func (h *Handshake) HandleMessage(msg *herald.MessageReceived) {
	switch msg.Subject {
	case SubjectNewcomer:
		peer := h.register(msg)
		if peer != nil {
			h.welcome(peer, msg)
		}
	case SubjectWelcome:
		h.register(msg)
	case SubjectBye:
		h.bye(msg)
	default:
		h.fallback.HandleMessage(msg)
	}
}

func (h *Handshake) register(msg *herald.MessageReceived) *herald.Peer {
	desc, err := decodeDescription(msg.Content)
	if err != nil {
		h.getLogger().Warn("ignoring undecodable description", "subject", msg.Subject, "sender_uid", msg.SenderUID, "error", err)
		return nil
	}
	if desc.UID != msg.SenderUID {
		h.getLogger().Warn("ignoring description of another peer", "sender_uid", msg.SenderUID, "peer_uid", desc.UID)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	peer, err := h.dir.Register(ctx, desc)
	switch {
	case peer == nil:
		h.getLogger().Debug("description not registered", "peer_uid", desc.UID, "error", err)
	case err != nil:
		h.getLogger().Warn("persisting peer failed", "peer_uid", desc.UID, "error", err)
	}
	return peer
}

func (h *Handshake) welcome(peer *herald.Peer, msg *herald.MessageReceived) {
	sender := h.getSender()
	if sender == nil {
		h.getLogger().Warn("cannot welcome peer without a sender", "peer_uid", peer.UID())
		return
	}

	desc := sender.UpdateDescription(msg, h.dir.Description())
	reply := herald.NewReply(msg, SubjectWelcome, desc)
	if err := sender.Fire(peer, reply, msg.Extra); err != nil {
		h.getLogger().Warn("welcome failed", "peer_uid", peer.UID(), "error", err)
	}
}

func (h *Handshake) bye(msg *herald.MessageReceived) {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	if _, err := h.dir.Forget(ctx, msg.SenderUID); err != nil && !errors.Is(err, herald.ErrUnknownPeer) {
		h.getLogger().Warn("forgetting departing peer failed", "peer_uid", msg.SenderUID, "error", err)
	}
}

// decodeDescription accepts the raw JSON of an inbound message as well as
// in-process values.
func decodeDescription(content any) (herald.Description, error) {
	var desc herald.Description
	switch c := content.(type) {
	case herald.Description:
		return c, nil
	case *herald.Description:
		if c == nil {
			return desc, errors.New("nil description")
		}
		return *c, nil
	case json.RawMessage:
		return desc, json.Unmarshal(c, &desc)
	case []byte:
		return desc, json.Unmarshal(c, &desc)
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return desc, fmt.Errorf("encoding description: %w", err)
		}
		return desc, json.Unmarshal(data, &desc)
	}
}
