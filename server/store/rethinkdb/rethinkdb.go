// Package rethinkdb is the concrete store.Adapter backed by RethinkDB,
// using the table layout from spec section 6: users, groups,
// user_sessions, group_states. Change feeds back observeGroupState and
// observeGroupMeta directly with RethinkDB's Changes() cursors.
package rethinkdb

import (
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	rdb "gopkg.in/rethinkdb/rethinkdb-go.v5"

	"github.com/zeldanerd24/ircdd/server/ircerr"
	"github.com/zeldanerd24/ircdd/server/store/adapter"
	"github.com/zeldanerd24/ircdd/server/store/idgen"
	t "github.com/zeldanerd24/ircdd/server/store/types"
)

const (
	tableUsers        = "users"
	tableGroups       = "groups"
	tableUserSessions = "user_sessions"
	tableGroupStates  = "group_states"
)

type configType struct {
	Database  string   `json:"database"`
	Addresses []string `json:"addresses"`
	AuthKey   string   `json:"auth_key"`
}

// Adapter is the RethinkDB-backed store.Adapter implementation.
type Adapter struct {
	sess   *rdb.Session
	dbName string
	ids    *idgen.Generator
}

// New returns an unopened Adapter. nodeOrdinal seeds the message-id
// generator so that two cluster nodes never emit the same id.
func New(nodeOrdinal uint8) (*Adapter, error) {
	ids, err := idgen.New(nodeOrdinal)
	if err != nil {
		return nil, err
	}
	return &Adapter{ids: ids}, nil
}

// Open connects to RethinkDB using a JSON-encoded configType.
func (a *Adapter) Open(config string) error {
	if a.sess != nil {
		return errors.New("rethinkdb: already open")
	}
	var cfg configType
	if err := json.Unmarshal([]byte(config), &cfg); err != nil {
		return errors.New("rethinkdb: failed to parse config: " + err.Error())
	}
	if cfg.Database == "" {
		cfg.Database = "ircdd"
	}
	if len(cfg.Addresses) == 0 {
		cfg.Addresses = []string{"localhost:28015"}
	}

	var sess *rdb.Session
	err := withRetry(func() error {
		var err error
		sess, err = rdb.Connect(rdb.ConnectOpts{
			Addresses: cfg.Addresses,
			Database:  cfg.Database,
			AuthKey:   cfg.AuthKey,
		})
		return err
	})
	if err != nil {
		return err
	}

	a.sess = sess
	a.dbName = cfg.Database
	return nil
}

// Close releases the RethinkDB session.
func (a *Adapter) Close() error {
	if a.sess == nil {
		return nil
	}
	err := a.sess.Close()
	a.sess = nil
	return err
}

// IsOpen reports whether the adapter holds a live session.
func (a *Adapter) IsOpen() bool {
	return a.sess != nil
}

// CreateDb creates the four tables described in spec section 6, optionally
// dropping the database first.
func (a *Adapter) CreateDb(reset bool) error {
	if reset {
		withRetry(func() error {
			_, err := rdb.DBDrop(a.dbName).RunWrite(a.sess)
			return err
		})
	}
	if err := withRetry(func() error {
		_, err := rdb.DBCreate(a.dbName).RunWrite(a.sess)
		return err
	}); err != nil && !isAlreadyExists(err) {
		return err
	}
	db := rdb.DB(a.dbName)
	for _, table := range []string{tableUsers, tableGroups, tableUserSessions, tableGroupStates} {
		table := table
		if err := withRetry(func() error {
			_, err := db.TableCreate(table).RunWrite(a.sess)
			return err
		}); err != nil && !isAlreadyExists(err) {
			return err
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "already exists") ||
		strings.Contains(err.Error(), "Duplicate primary key"))
}

// isTransient reports whether err looks like a dropped connection, timeout,
// or other transport-level failure rather than a query or data error.
// rethinkdb-go doesn't export stable sentinels for its connection-error
// variants, so string matching is the grounded idiom here, same as
// isAlreadyExists above.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok {
		return ne.Timeout() || ne.Temporary()
	}
	msg := err.Error()
	for _, s := range []string{
		"connection closed", "connection refused", "connection reset",
		"broken pipe", "i/o timeout", "EOF", "no connection could be made",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// withRetry retries op with exponential backoff while its error looks
// transient, per spec section 4.1: transient transport errors are
// retried with backoff inside the Store rather than surfacing straight to
// a caller as StorageUnavailable. Non-transient errors -- including the
// duplicate/not-found conditions callers already branch on via
// isAlreadyExists -- return on the first attempt.
func withRetry(op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Second
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

func (a *Adapter) table(name string) rdb.Term {
	return rdb.DB(a.dbName).Table(name)
}

// CreateUser inserts a user row, treating a duplicate-primary-key
// conflict as a silent no-op, per spec section 4.1.
func (a *Adapter) CreateUser(nick, email, password string, registered bool, permissions map[string][]t.Permission) error {
	if permissions == nil {
		permissions = map[string][]t.Permission{}
	}
	err := withRetry(func() error {
		_, err := a.table(tableUsers).Insert(&t.User{
			ID:          nick,
			Email:       email,
			Password:    password,
			Registered:  registered,
			Permissions: permissions,
		}, rdb.InsertOpts{Conflict: "error"}).RunWrite(a.sess)
		return err
	})
	if err != nil && isAlreadyExists(err) {
		// Idempotent: a pre-existing row is a silent no-op.
		return nil
	}
	return err
}

// LookupUser loads the user row joined with its current session and the
// channels whose GroupState lists it.
func (a *Adapter) LookupUser(nick string) (*t.LookupUser, error) {
	var u t.User
	var cur *rdb.Cursor
	err := withRetry(func() error {
		var err error
		cur, err = a.table(tableUsers).Get(nick).Run(a.sess)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	if cur.IsNil() {
		return nil, nil
	}
	if err := cur.One(&u); err != nil {
		return nil, err
	}

	sess, err := a.LookupUserSession(nick)
	if err != nil {
		return nil, err
	}

	var channels []string
	var gsCur *rdb.Cursor
	if err := withRetry(func() error {
		var err error
		gsCur, err = a.table(tableGroupStates).Run(a.sess)
		return err
	}); err != nil {
		return nil, err
	}
	defer gsCur.Close()
	var gs t.GroupState
	for gsCur.Next(&gs) {
		if _, ok := gs.Users[nick]; ok {
			channels = append(channels, gs.ID)
		}
	}

	return &t.LookupUser{User: &u, Session: sess, Channels: channels}, nil
}

// RegisterUser flips registered=true and fills email/password on an
// existing row. Validation already happened in the store facade.
func (a *Adapter) RegisterUser(nick, email, password string) error {
	return withRetry(func() error {
		_, err := a.table(tableUsers).Get(nick).Update(map[string]interface{}{
			"email":      email,
			"password":   password,
			"registered": true,
		}).RunWrite(a.sess)
		return err
	})
}

// DeleteUser removes the user row.
func (a *Adapter) DeleteUser(nick string) error {
	return withRetry(func() error {
		_, err := a.table(tableUsers).Get(nick).Delete().RunWrite(a.sess)
		return err
	})
}

// SetPermission appends flag into permissions[channel].
func (a *Adapter) SetPermission(nick, channel string, flag t.Permission) error {
	return withRetry(func() error {
		_, err := a.table(tableUsers).Get(nick).Update(rdb.Row.Field("permissions").Merge(
			map[string]interface{}{
				channel: rdb.Row.Field("permissions").Field(channel).Default([]interface{}{}).Append(string(flag)),
			},
		)).RunWrite(a.sess)
		return err
	})
}

// HeartbeatUserSession inserts the session row if absent, else updates
// last_heartbeat; a single upsert captures both cases.
func (a *Adapter) HeartbeatUserSession(nick string, now time.Time) error {
	existing, err := a.LookupUserSession(nick)
	if err != nil {
		return err
	}
	sess := &t.UserSession{ID: nick, SessionStart: now, LastHeartbeat: now}
	if existing != nil {
		sess.SessionStart = existing.SessionStart
	}
	return withRetry(func() error {
		_, err := a.table(tableUserSessions).Insert(sess, rdb.InsertOpts{Conflict: "update"}).RunWrite(a.sess)
		return err
	})
}

// LookupUserSession returns the session row, or nil if absent.
func (a *Adapter) LookupUserSession(nick string) (*t.UserSession, error) {
	var cur *rdb.Cursor
	err := withRetry(func() error {
		var err error
		cur, err = a.table(tableUserSessions).Get(nick).Run(a.sess)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	if cur.IsNil() {
		return nil, nil
	}
	var s t.UserSession
	if err := cur.One(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RemoveUserSession deletes the session row.
func (a *Adapter) RemoveUserSession(nick string) error {
	return withRetry(func() error {
		_, err := a.table(tableUserSessions).Get(nick).Delete().RunWrite(a.sess)
		return err
	})
}

// HeartbeatUserInGroup creates the GroupState if missing and sets or
// refreshes users[nick].
func (a *Adapter) HeartbeatUserInGroup(nick, group string, now time.Time) error {
	return withRetry(func() error {
		_, err := a.table(tableGroupStates).Insert(&t.GroupState{
			ID:    group,
			Users: map[string]time.Time{nick: now},
		}, rdb.InsertOpts{Conflict: func(id string, oldDoc, newDoc rdb.Term) rdb.Term {
			return oldDoc.Merge(map[string]interface{}{
				"users": oldDoc.Field("users").Merge(newDoc.Field("users")),
			})
		}}).RunWrite(a.sess)
		return err
	})
}

// RemoveUserFromGroup deletes key nick from a GroupState's users.
func (a *Adapter) RemoveUserFromGroup(nick, group string) error {
	return withRetry(func() error {
		_, err := a.table(tableGroupStates).Get(group).Update(map[string]interface{}{
			"users": rdb.Row.Field("users").Without(nick),
		}).RunWrite(a.sess)
		return err
	})
}

// CreateGroup creates both a Group and a GroupState, idempotent.
func (a *Adapter) CreateGroup(name string, kind t.GroupType) error {
	err := withRetry(func() error {
		_, err := a.table(tableGroups).Insert(&t.Group{
			ID:       name,
			Name:     name,
			Type:     kind,
			Messages: []t.GroupMessage{},
		}, rdb.InsertOpts{Conflict: "error"}).RunWrite(a.sess)
		return err
	})
	if err != nil && !isAlreadyExists(err) {
		return err
	}
	err = withRetry(func() error {
		_, err := a.table(tableGroupStates).Insert(&t.GroupState{
			ID:    name,
			Users: map[string]time.Time{},
		}, rdb.InsertOpts{Conflict: "error"}).RunWrite(a.sess)
		return err
	})
	if err != nil && !isAlreadyExists(err) {
		return err
	}
	return nil
}

// LookupGroup loads the Group row joined with its GroupState's users.
func (a *Adapter) LookupGroup(name string) (*t.LookupGroup, error) {
	var g t.Group
	var cur *rdb.Cursor
	err := withRetry(func() error {
		var err error
		cur, err = a.table(tableGroups).Get(name).Run(a.sess)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	if cur.IsNil() {
		return nil, nil
	}
	if err := cur.One(&g); err != nil {
		return nil, err
	}

	var gsCur *rdb.Cursor
	err = withRetry(func() error {
		var err error
		gsCur, err = a.table(tableGroupStates).Get(name).Run(a.sess)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer gsCur.Close()
	users := map[string]time.Time{}
	if !gsCur.IsNil() {
		var gs t.GroupState
		if err := gsCur.One(&gs); err != nil {
			return nil, err
		}
		users = gs.Users
	}

	return &t.LookupGroup{Group: &g, Users: users}, nil
}

// ListGroups returns all groups of type public, joined with their users.
func (a *Adapter) ListGroups() ([]t.LookupGroup, error) {
	var cur *rdb.Cursor
	err := withRetry(func() error {
		var err error
		cur, err = a.table(tableGroups).Filter(map[string]interface{}{"type": string(t.GroupPublic)}).Run(a.sess)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []t.LookupGroup
	var g t.Group
	for cur.Next(&g) {
		lg, err := a.LookupGroup(g.ID)
		if err != nil {
			return nil, err
		}
		if lg != nil {
			out = append(out, *lg)
		}
	}
	return out, cur.Err()
}

// DeleteGroup removes both the Group and the GroupState.
func (a *Adapter) DeleteGroup(name string) error {
	if err := withRetry(func() error {
		_, err := a.table(tableGroups).Get(name).Delete().RunWrite(a.sess)
		return err
	}); err != nil {
		return err
	}
	return withRetry(func() error {
		_, err := a.table(tableGroupStates).Get(name).Delete().RunWrite(a.sess)
		return err
	})
}

// SetGroupTopic updates meta with topic_time = now.
func (a *Adapter) SetGroupTopic(name, topic, author string, now time.Time) error {
	return withRetry(func() error {
		_, err := a.table(tableGroups).Get(name).Update(map[string]interface{}{
			"meta": map[string]interface{}{
				"topic":        topic,
				"topic_author": author,
				"topic_time":   now,
			},
		}).RunWrite(a.sess)
		return err
	})
}

// AddMessage appends a chat-log entry to the group's messages.
func (a *Adapter) AddMessage(group, sender, text string, now time.Time) error {
	return withRetry(func() error {
		_, err := a.table(tableGroups).Get(group).Update(map[string]interface{}{
			"messages": rdb.Row.Field("messages").Append(&t.GroupMessage{
				ID:     a.ids.Next(),
				Sender: sender,
				Time:   now,
				Text:   text,
			}),
		}).RunWrite(a.sess)
		return err
	})
}

// PrivateMessage lazily creates the private group "min(a,b):max(a,b)" and
// appends the message.
func (a *Adapter) PrivateMessage(a1, b string, when time.Time, text string) error {
	lo, hi := a1, b
	if hi < lo {
		lo, hi = hi, lo
	}
	name := lo + ":" + hi
	if err := a.CreateGroup(name, t.GroupPrivate); err != nil {
		return err
	}
	return a.AddMessage(name, a1, text, when)
}

// ObserveGroupState opens a Changes() cursor on one GroupState document.
// Only establishing the cursor is retried; once open, a disconnect
// surfaces to the caller via Next so it can restart the feed itself, per
// adapter.GroupStateFeed's contract.
func (a *Adapter) ObserveGroupState(name string) (adapter.GroupStateFeed, error) {
	var cur *rdb.Cursor
	err := withRetry(func() error {
		var err error
		cur, err = a.table(tableGroupStates).Get(name).Changes(rdb.ChangesOpts{IncludeInitial: false}).Run(a.sess)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &groupStateFeed{cur: cur}, nil
}

// ObserveGroupMeta opens a Changes() cursor on one Group document.
func (a *Adapter) ObserveGroupMeta(name string) (adapter.GroupMetaFeed, error) {
	var cur *rdb.Cursor
	err := withRetry(func() error {
		var err error
		cur, err = a.table(tableGroups).Get(name).Changes(rdb.ChangesOpts{IncludeInitial: false}).Run(a.sess)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &groupMetaFeed{cur: cur}, nil
}

type groupStateFeed struct {
	cur *rdb.Cursor
}

func (f *groupStateFeed) Next() (*t.GroupStateChange, error) {
	var raw rdb.ChangeResponse
	if !f.cur.Next(&raw) {
		return nil, ircerr.Wrap(ircerr.KindStorageUnavailable, "rethinkdb: group state feed closed", f.cur.Err())
	}
	return decodeGroupStateChange(raw)
}

func (f *groupStateFeed) Close() error {
	return f.cur.Close()
}

type groupMetaFeed struct {
	cur *rdb.Cursor
}

func (f *groupMetaFeed) Next() (*t.GroupMetaChange, error) {
	var raw rdb.ChangeResponse
	if !f.cur.Next(&raw) {
		return nil, ircerr.Wrap(ircerr.KindStorageUnavailable, "rethinkdb: group meta feed closed", f.cur.Err())
	}
	return decodeGroupMetaChange(raw)
}

func (f *groupMetaFeed) Close() error {
	return f.cur.Close()
}

func decodeGroupStateChange(raw rdb.ChangeResponse) (*t.GroupStateChange, error) {
	change := &t.GroupStateChange{}
	if raw.OldValue != nil {
		var gs t.GroupState
		if err := remarshal(raw.OldValue, &gs); err != nil {
			return nil, err
		}
		change.OldVal = &gs
	}
	if raw.NewValue != nil {
		var gs t.GroupState
		if err := remarshal(raw.NewValue, &gs); err != nil {
			return nil, err
		}
		change.NewVal = &gs
	}
	return change, nil
}

func decodeGroupMetaChange(raw rdb.ChangeResponse) (*t.GroupMetaChange, error) {
	change := &t.GroupMetaChange{}
	if raw.OldValue != nil {
		var g t.Group
		if err := remarshal(raw.OldValue, &g); err != nil {
			return nil, err
		}
		change.OldVal = &g
	}
	if raw.NewValue != nil {
		var g t.Group
		if err := remarshal(raw.NewValue, &g); err != nil {
			return nil, err
		}
		change.NewVal = &g
	}
	return change, nil
}

// remarshal decodes the loosely-typed interface{} RethinkDB hands back
// from Changes() into one of our strongly-typed documents, per the "dynamic
// maps as documents" design note: only decoded forms leave this file.
func remarshal(src interface{}, dst interface{}) error {
	buf, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, dst)
}
