package whatsapp

import (
	"fmt"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Event is a lifecycle or message notification emitted by the adapter.
type Event interface {
	eventName() string
}

// PairingCode carries a fresh pairing payload to be shown to the operator.
type PairingCode struct {
	Code string
}

// Ready is emitted once the session is authenticated and connected.
type Ready struct{}

// Disconnected is emitted when an established connection drops.
type Disconnected struct {
	Reason string
}

// AuthFailure is emitted when the session is rejected or pairing fails.
type AuthFailure struct {
	Reason string
}

// MessageReceived wraps an inbound message from another party.
type MessageReceived struct {
	Message *Message
}

func (PairingCode) eventName() string { return "pairing_code" }
func (Ready) eventName() string { return "ready" }
func (Disconnected) eventName() string { return "disconnected" }
func (AuthFailure) eventName() string { return "auth_failure" }
func (MessageReceived) eventName() string { return "message" }

// EventName returns a short stable name for logging.
func EventName(evt Event) string {
	if evt == nil {
		return ""
	}
	return evt.eventName()
}

// Message is an inbound text message.
type Message struct {
	ID        string
	Body      string
	From      string // chat address replies go to
	ContactID string // user part of From, server suffix stripped
	PushName  string
	Direct    bool
	Timestamp time.Time
}

// translateEvent maps a whatsmeow event to an adapter event. Events with no
// meaning for the session, and our own outgoing messages, are dropped.
func translateEvent(raw interface{}) (Event, bool) {
	switch evt := raw.(type) {
	case *events.Connected:
		return Ready{}, true
	case *events.Disconnected:
		return Disconnected{Reason: "connection closed"}, true
	case *events.LoggedOut:
		return AuthFailure{Reason: fmt.Sprintf("logged out: %v", evt.Reason)}, true
	case *events.ConnectFailure:
		return AuthFailure{Reason: fmt.Sprintf("connect failure: %v %s", evt.Reason, evt.Message)}, true
	case *events.TemporaryBan:
		return AuthFailure{Reason: fmt.Sprintf("temporary ban: %v", evt.Code)}, true
	case *events.StreamReplaced:
		return AuthFailure{Reason: "stream replaced by another connection"}, true
	case *events.Message:
		if evt.Info.IsFromMe {
			return nil, false
		}
		body := messageText(evt)
		if body == "" {
			return nil, false
		}
		return MessageReceived{Message: &Message{
			ID:        string(evt.Info.ID),
			Body:      body,
			From:      evt.Info.Chat.String(),
			ContactID: evt.Info.Chat.User,
			PushName:  evt.Info.PushName,
			Direct:    IsDirectContact(evt.Info.Chat) && !evt.Info.IsGroup,
			Timestamp: evt.Info.Timestamp,
		}}, true
	}
	return nil, false
}

const (
	qrEventCode  = "code"
	qrEventError = "error"
)

// translateQR maps a pairing channel item to an adapter event.
func translateQR(item whatsmeow.QRChannelItem) (Event, bool) {
	switch item.Event {
	case qrEventCode:
		return PairingCode{Code: item.Code}, true
	case whatsmeow.QRChannelSuccess.Event:
		return nil, false
	case whatsmeow.QRChannelTimeout.Event:
		return AuthFailure{Reason: "pairing timed out"}, true
	case qrEventError:
		return AuthFailure{Reason: fmt.Sprintf("pairing error: %v", item.Error)}, true
	default:
		return AuthFailure{Reason: "pairing failed: " + item.Event}, true
	}
}

func messageText(evt *events.Message) string {
	if evt.Message == nil {
		return ""
	}
	if text := evt.Message.GetConversation(); text != "" {
		return text
	}
	return evt.Message.GetExtendedTextMessage().GetText()
}

// IsDirectContact reports whether jid addresses a single user rather than a
// group, broadcast list or newsletter.
func IsDirectContact(jid types.JID) bool {
	return jid.Server == types.DefaultUserServer || jid.Server == types.HiddenUserServer
}

// ContactID strips the server suffix from an address string.
func ContactID(address string) string {
	if i := strings.IndexByte(address, '@'); i >= 0 {
		address = address[:i]
	}
	if i := strings.IndexByte(address, ':'); i >= 0 {
		address = address[:i]
	}
	return address
}
