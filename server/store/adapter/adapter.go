// Package adapter is the interface a concrete storage backend must
// implement. The store package wraps one adapter instance behind its
// package-level functions.
package adapter

import (
	"time"

	t "github.com/zeldanerd24/ircdd/server/store/types"
)

// GroupStateFeed is a cancellable, restartable stream of GroupState
// changes for one document id. Close cancels the underlying cursor; a
// concurrent Next call then returns an error of kind
// KindStorageUnavailable.
type GroupStateFeed interface {
	Next() (*t.GroupStateChange, error)
	Close() error
}

// GroupMetaFeed is the Group-document analogue of GroupStateFeed.
type GroupMetaFeed interface {
	Next() (*t.GroupMetaChange, error)
	Close() error
}

// Adapter is the interface a concrete storage backend must implement.
// Every call either succeeds or returns an error, which the store facade
// reports to its callers as KindStorageUnavailable -- transient errors are
// expected to have already been retried with backoff inside the adapter
// itself.
type Adapter interface {
	// Open connects and readies the adapter for use.
	Open(config string) error
	// Close releases the adapter's connection(s).
	Close() error
	// IsOpen reports whether the adapter is ready for use.
	IsOpen() bool
	// CreateDb creates the four tables, optionally dropping them first.
	CreateDb(reset bool) error

	// CreateUser inserts a user row; idempotent, a pre-existing row is a
	// silent no-op (DuplicateUser is reported by the caller, not here, to
	// match the decision table in spec section 4.3).
	CreateUser(nick, email, password string, registered bool, permissions map[string][]t.Permission) error
	// LookupUser loads the joined user/session/channels view, or nil if
	// the user row does not exist.
	LookupUser(nick string) (*t.LookupUser, error)
	// RegisterUser flips registered=true on an existing anonymous row,
	// filling in the validated email and password.
	RegisterUser(nick, email, password string) error
	// DeleteUser removes the user row.
	DeleteUser(nick string) error
	// SetPermission appends flag into permissions[channel].
	SetPermission(nick, channel string, flag t.Permission) error

	// HeartbeatUserSession creates the session row if absent, else bumps
	// last_heartbeat.
	HeartbeatUserSession(nick string, now time.Time) error
	// LookupUserSession returns the session row, or nil if absent.
	LookupUserSession(nick string) (*t.UserSession, error)
	// RemoveUserSession deletes the session row.
	RemoveUserSession(nick string) error

	// HeartbeatUserInGroup creates the GroupState if missing and sets or
	// refreshes users[nick].
	HeartbeatUserInGroup(nick, group string, now time.Time) error
	// RemoveUserFromGroup deletes key nick from a GroupState's users.
	RemoveUserFromGroup(nick, group string) error

	// CreateGroup creates a Group and its GroupState; idempotent.
	CreateGroup(name string, kind t.GroupType) error
	// LookupGroup loads the joined group/membership view, or nil if the
	// group does not exist.
	LookupGroup(name string) (*t.LookupGroup, error)
	// ListGroups returns every group of type public, joined with users.
	ListGroups() ([]t.LookupGroup, error)
	// DeleteGroup removes both the Group and the GroupState.
	DeleteGroup(name string) error

	// SetGroupTopic updates meta.topic/topic_author/topic_time.
	SetGroupTopic(name, topic, author string, now time.Time) error
	// AddMessage appends a chat-log entry to the group's messages.
	AddMessage(group, sender, text string, now time.Time) error
	// PrivateMessage lazily creates the private group named
	// min(a,b)+":"+max(a,b) and appends the message.
	PrivateMessage(a, b string, when time.Time, text string) error

	// ObserveGroupState opens a long-lived change feed on one GroupState
	// document. The feed fails with KindStorageUnavailable on disconnect;
	// the caller is responsible for restarting it.
	ObserveGroupState(name string) (GroupStateFeed, error)
	// ObserveGroupMeta is the Group-document analogue.
	ObserveGroupMeta(name string) (GroupMetaFeed, error)
}
