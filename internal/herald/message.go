package herald

import (
	"strconv"
	"time"
)

// Header keys carried by every message.
const (
	HeaderUID       = "uid"
	HeaderSenderUID = "sender-uid"
	HeaderRepliesTo = "replies-to"
	HeaderTimestamp = "timestamp"
)

// Message is an outbound message. Content must be JSON-encodable; a
// json.RawMessage is sent verbatim.
type Message struct {
	UID     string
	Subject string
	Content any
	Headers map[string]string
}

// NewMessage creates a message with a fresh UID and the current timestamp.
func NewMessage(subject string, content any) *Message {
	uid := NewUID()
	return &Message{
		UID:     uid,
		Subject: subject,
		Content: content,
		Headers: map[string]string{
			HeaderUID:       uid,
			HeaderTimestamp: strconv.FormatInt(time.Now().UnixMilli(), 10),
		},
	}
}

// NewReply creates a message answering parent.
func NewReply(parent *MessageReceived, subject string, content any) *Message {
	msg := NewMessage(subject, content)
	msg.Headers[HeaderRepliesTo] = parent.UID
	return msg
}

// RepliesTo returns the UID of the message this one answers, if any.
func (m *Message) RepliesTo() string {
	return m.Headers[HeaderRepliesTo]
}

// MessageReceived is an inbound message as handed to the core.
//
// Content holds the raw JSON of the sender's content (json.RawMessage),
// exactly as it was sent.
type MessageReceived struct {
	Message

	// SenderUID is the UID of the emitting peer.
	SenderUID string

	// AccessID names the transport the message arrived on.
	AccessID string

	// Extra is the transport-specific return address of the sender. Pass
	// it back to the transport to reply on the same path.
	Extra any
}
