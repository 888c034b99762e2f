// Package server is the distribution-layer core of the cluster: the Realm
// directory, the SharedUser/SharedGroup controllers, and the contract they
// expect from the wire protocol layer. Parsing IRC commands, producing
// numeric replies, and the TCP listener itself are an external
// collaborator's job; this package only ever deals in structured events.
package server

import "github.com/zeldanerd24/ircdd/server/store/types"

// ProtocolSession is what the wire layer must hand the core for every
// connected client, per spec section 4.7. The core never parses IRC; it
// calls these methods and expects the adapter to serialize them to the
// wire.
type ProtocolSession interface {
	// Name is the nickname this session is currently bound to.
	Name() string
	// Hostname is the display hostname used in sender.hostname, e.g. the
	// originating cluster node's name.
	Hostname() string
	// Receive delivers one chat message originating from senderName. self
	// is the SharedUser or SharedGroup that routed the message, kept
	// opaque to the adapter.
	Receive(senderName string, self interface{}, message *MessageBody) error
	// UserJoined notifies that nick (at hostname) joined group.
	UserJoined(group, nick, hostname string)
	// UserLeft notifies that nick left group, with an optional reason.
	UserLeft(group, nick, reason string)
	// GroupMetaUpdate notifies that group's metadata changed.
	GroupMetaUpdate(group string, meta types.GroupMeta)
}

// LogoutFunc is supplied by the core to the wire layer; the adapter calls
// it when the underlying connection ends.
type LogoutFunc func()

// Sender identifies the origin of a message body on the wire, per spec
// section 6.
type Sender struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
}

// MessageBody is the payload shape carried inside a bus Envelope's
// msg_body, per spec section 6.
type MessageBody struct {
	Type      string `json:"type"`
	Sender    Sender `json:"sender"`
	Recipient string `json:"recipient,omitempty"`
	Text      string `json:"text,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Body type discriminants, per spec section 6.
const (
	BodyPrivmsg = "privmsg"
	BodyJoin    = "join"
	BodyPart    = "part"
)
