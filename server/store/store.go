// Package store is the facade the rest of the core talks to. It owns the
// single configured adapter and exposes typed, validated operations,
// mirroring the teacher's store.Users/store.Topics singleton pattern.
package store

import (
	"time"

	"github.com/zeldanerd24/ircdd/server/ircerr"
	"github.com/zeldanerd24/ircdd/server/store/adapter"
	t "github.com/zeldanerd24/ircdd/server/store/types"
)

var adp adapter.Adapter

// RegisterAdapter installs the adapter backing every store call below.
// Called once at process startup, before any other store.* call.
func RegisterAdapter(a adapter.Adapter) {
	adp = a
}

// Open connects the registered adapter.
func Open(config string) error {
	if adp == nil {
		return ircerr.New(ircerr.KindStorageUnavailable, "no adapter registered")
	}
	if err := adp.Open(config); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "open failed", err)
	}
	return nil
}

// Close releases the adapter's connection(s).
func Close() error {
	if adp == nil {
		return nil
	}
	return adp.Close()
}

// CreateDb bootstraps the four tables.
func CreateDb(reset bool) error {
	if err := adp.CreateDb(reset); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "create db failed", err)
	}
	return nil
}

// CreateUser is idempotent: an existing row is a silent success, the
// caller decides whether a pre-existing row is reported as DuplicateUser.
func CreateUser(nick, email, password string, registered bool, permissions map[string][]t.Permission) error {
	nick = t.NormalizeName(nick)
	if !t.ValidNick(nick) {
		return ircerr.Invalid("nick", "must match ^[A-Za-z0-9_-]{3,64}$")
	}
	if err := adp.CreateUser(nick, email, password, registered, permissions); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "create user failed", err)
	}
	return nil
}

// LookupUser loads the joined user/session/channels view.
func LookupUser(nick string) (*t.LookupUser, error) {
	nick = t.NormalizeName(nick)
	u, err := adp.LookupUser(nick)
	if err != nil {
		return nil, ircerr.Wrap(ircerr.KindStorageUnavailable, "lookup user failed", err)
	}
	return u, nil
}

// RegisterUser validates email/nick/password and flips registered=true.
func RegisterUser(nick, email, password string) error {
	nick = t.NormalizeName(nick)
	if !t.ValidNick(nick) {
		return ircerr.Invalid("nick", "must match ^[A-Za-z0-9_-]{3,64}$")
	}
	if !t.ValidEmail(email) {
		return ircerr.Invalid("email", "must match RFC-lite email pattern")
	}
	if !t.ValidPassword(password) {
		return ircerr.Invalid("password", "must match ^[A-Za-z0-9_-]{6,64}$")
	}
	if err := adp.RegisterUser(nick, email, password); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "register user failed", err)
	}
	return nil
}

// DeleteUser removes the user row.
func DeleteUser(nick string) error {
	nick = t.NormalizeName(nick)
	if err := adp.DeleteUser(nick); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "delete user failed", err)
	}
	return nil
}

// SetPermission appends flag into permissions[channel].
func SetPermission(nick, channel string, flag t.Permission) error {
	nick = t.NormalizeName(nick)
	channel = t.NormalizeName(channel)
	if err := adp.SetPermission(nick, channel, flag); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "set permission failed", err)
	}
	return nil
}

// HeartbeatUserSession creates or refreshes the session row.
func HeartbeatUserSession(nick string) error {
	nick = t.NormalizeName(nick)
	if err := adp.HeartbeatUserSession(nick, time.Now().UTC()); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "heartbeat session failed", err)
	}
	return nil
}

// LookupUserSession returns the session row, or nil if absent.
func LookupUserSession(nick string) (*t.UserSession, error) {
	nick = t.NormalizeName(nick)
	s, err := adp.LookupUserSession(nick)
	if err != nil {
		return nil, ircerr.Wrap(ircerr.KindStorageUnavailable, "lookup session failed", err)
	}
	return s, nil
}

// RemoveUserSession deletes the session row.
func RemoveUserSession(nick string) error {
	nick = t.NormalizeName(nick)
	if err := adp.RemoveUserSession(nick); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "remove session failed", err)
	}
	return nil
}

// HeartbeatUserInGroup creates the GroupState if missing and refreshes
// users[nick].
func HeartbeatUserInGroup(nick, group string) error {
	nick = t.NormalizeName(nick)
	group = t.NormalizeName(group)
	if err := adp.HeartbeatUserInGroup(nick, group, time.Now().UTC()); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "heartbeat group presence failed", err)
	}
	return nil
}

// RemoveUserFromGroup deletes key nick from a GroupState's users.
func RemoveUserFromGroup(nick, group string) error {
	nick = t.NormalizeName(nick)
	group = t.NormalizeName(group)
	if err := adp.RemoveUserFromGroup(nick, group); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "remove group presence failed", err)
	}
	return nil
}

// CreateGroup creates a Group and its GroupState; idempotent.
func CreateGroup(name string, kind t.GroupType) error {
	name = t.NormalizeName(name)
	if !t.ValidNick(name) {
		return ircerr.Invalid("name", "must match ^[A-Za-z0-9_-]{3,64}$")
	}
	if err := adp.CreateGroup(name, kind); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "create group failed", err)
	}
	return nil
}

// LookupGroup loads the joined group/membership view.
func LookupGroup(name string) (*t.LookupGroup, error) {
	name = t.NormalizeName(name)
	g, err := adp.LookupGroup(name)
	if err != nil {
		return nil, ircerr.Wrap(ircerr.KindStorageUnavailable, "lookup group failed", err)
	}
	return g, nil
}

// ListGroups returns every group of type public, joined with users.
func ListGroups() ([]t.LookupGroup, error) {
	gs, err := adp.ListGroups()
	if err != nil {
		return nil, ircerr.Wrap(ircerr.KindStorageUnavailable, "list groups failed", err)
	}
	return gs, nil
}

// DeleteGroup removes both the Group and the GroupState.
func DeleteGroup(name string) error {
	name = t.NormalizeName(name)
	if err := adp.DeleteGroup(name); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "delete group failed", err)
	}
	return nil
}

// SetGroupTopic updates meta with topic_time = now.
func SetGroupTopic(name, topic, author string) error {
	name = t.NormalizeName(name)
	if err := adp.SetGroupTopic(name, topic, author, time.Now().UTC()); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "set group topic failed", err)
	}
	return nil
}

// AddMessage appends a chat-log entry; best-effort, not a durable queue.
func AddMessage(group, sender, text string) error {
	group = t.NormalizeName(group)
	if err := adp.AddMessage(group, sender, text, time.Now().UTC()); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "add message failed", err)
	}
	return nil
}

// PrivateMessage lazily creates the private group "min(a,b):max(a,b)" and
// appends the message.
func PrivateMessage(a, b string, text string) error {
	a, b = t.NormalizeName(a), t.NormalizeName(b)
	if err := adp.PrivateMessage(a, b, time.Now().UTC(), text); err != nil {
		return ircerr.Wrap(ircerr.KindStorageUnavailable, "private message failed", err)
	}
	return nil
}

// ObserveGroupState opens a restartable change feed on one GroupState doc.
func ObserveGroupState(name string) (adapter.GroupStateFeed, error) {
	name = t.NormalizeName(name)
	f, err := adp.ObserveGroupState(name)
	if err != nil {
		return nil, ircerr.Wrap(ircerr.KindStorageUnavailable, "observe group state failed", err)
	}
	return f, nil
}

// ObserveGroupMeta opens a restartable change feed on one Group doc.
func ObserveGroupMeta(name string) (adapter.GroupMetaFeed, error) {
	name = t.NormalizeName(name)
	f, err := adp.ObserveGroupMeta(name)
	if err != nil {
		return nil, ircerr.Wrap(ircerr.KindStorageUnavailable, "observe group meta failed", err)
	}
	return f, nil
}
