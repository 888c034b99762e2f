// Package types holds the strongly-typed documents decoded at the edge of
// the store. Nothing outside this package and the adapter that fills it in
// should see raw RethinkDB maps.
package types

import (
	"regexp"
	"strings"
	"time"
)

// Nick and group name validation, per spec section 3 and 4.1.
var (
	nickRe     = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)
	passwordRe = regexp.MustCompile(`^[A-Za-z0-9_-]{6,64}$`)
)

// NormalizeName lowercases a nickname or channel name, the only
// normalization the spec requires at lookup boundaries.
func NormalizeName(name string) string {
	return strings.ToLower(name)
}

// ValidNick reports whether nick matches the identity-key invariant.
func ValidNick(nick string) bool {
	return nickRe.MatchString(nick)
}

// ValidEmail reports whether email matches the RFC-lite regex.
func ValidEmail(email string) bool {
	return emailRe.MatchString(email)
}

// ValidPassword reports whether password matches the (deliberately
// nick-shaped, per spec open question) password regex.
func ValidPassword(password string) bool {
	return passwordRe.MatchString(password)
}

// GroupType distinguishes public channels from private (p2p) conversations.
type GroupType string

const (
	// GroupPublic is a channel anyone may join.
	GroupPublic GroupType = "public"
	// GroupPrivate is a two-party conversation, named "min(a,b):max(a,b)".
	GroupPrivate GroupType = "private"
)

// Permission is a single per-channel capability flag, e.g. "o" for op.
type Permission string

// User is the identity row keyed by lowercased nickname.
type User struct {
	ID          string                  `gorethink:"id"`
	Email       string                  `gorethink:"email"`
	Password    string                  `gorethink:"password"`
	Registered  bool                    `gorethink:"registered"`
	Permissions map[string][]Permission `gorethink:"permissions"`
}

// HasPermission reports whether the user holds flag on channel.
func (u *User) HasPermission(channel string, flag Permission) bool {
	for _, f := range u.Permissions[channel] {
		if f == flag {
			return true
		}
	}
	return false
}

// UserSession asserts that a nickname is currently owned by some node.
// Its existence -- not any field of it -- is the lock.
type UserSession struct {
	ID             string    `gorethink:"id"`
	SessionStart   time.Time `gorethink:"session_start"`
	LastHeartbeat  time.Time `gorethink:"last_heartbeat"`
	LastMessage    time.Time `gorethink:"last_message"`
}

// Stale reports whether the session has missed enough heartbeats to be
// considered dead, per the session TTL.
func (s *UserSession) Stale(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.LastHeartbeat) > ttl
}

// GroupMessage is one chat-log entry, best-effort persisted (spec non-goal:
// not a durable queue). ID is a snowflake-style monotonic id local to the
// group's own log, used only to order a single group's own history -- the
// spec explicitly disclaims any cluster-wide ordering guarantee.
type GroupMessage struct {
	ID     int64     `gorethink:"id"`
	Sender string    `gorethink:"sender"`
	Time   time.Time `gorethink:"time"`
	Text   string    `gorethink:"text"`
}

// GroupMeta is the authoritative, infrequently-changing part of a Group.
type GroupMeta struct {
	Topic       string    `gorethink:"topic"`
	TopicAuthor string    `gorethink:"topic_author"`
	TopicTime   time.Time `gorethink:"topic_time"`
}

// Group is the cold metadata document for a channel or private conversation.
type Group struct {
	ID       string         `gorethink:"id"`
	Name     string         `gorethink:"name"`
	Type     GroupType      `gorethink:"type"`
	Meta     GroupMeta      `gorethink:"meta"`
	Messages []GroupMessage `gorethink:"messages"`
}

// GroupState is the hot presence document for a channel, separated from
// Group so that roster churn never rewrites metadata.
type GroupState struct {
	ID    string               `gorethink:"id"`
	Users map[string]time.Time `gorethink:"users"`
}

// Member reports whether nick is present with a heartbeat fresher than ttl.
func (gs *GroupState) Member(nick string, ttl time.Duration, now time.Time) bool {
	hb, ok := gs.Users[nick]
	if !ok {
		return false
	}
	return now.Sub(hb) <= ttl
}

// LookupUser is the joined result of lookupUser: the user row plus its
// current session (nil if absent) and the channels it currently belongs to.
type LookupUser struct {
	User     *User
	Session  *UserSession
	Channels []string
}

// LookupGroup is the joined result of lookupGroup/createGroup/listGroups:
// the group row plus the live membership map from its GroupState.
type LookupGroup struct {
	Group *Group
	Users map[string]time.Time
}

// GroupStateChange is one entry from observeGroupState: before/after pair
// for a single GroupState document, or a nil OldVal/NewVal for
// insert/delete events respectively.
type GroupStateChange struct {
	OldVal *GroupState
	NewVal *GroupState
}

// GroupMetaChange is the analogous before/after pair for a Group document.
type GroupMetaChange struct {
	OldVal *Group
	NewVal *Group
}
