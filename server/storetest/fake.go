// Package storetest is an in-memory adapter.Adapter used by the rest of
// the tree's tests so that creds/shareduser/sharedgroup/realm tests never
// have to dial a real RethinkDB. It is not a _test.go file because it is
// imported from _test.go files in several other packages.
package storetest

import (
	"sync"
	"time"

	"github.com/zeldanerd24/ircdd/server/ircerr"
	"github.com/zeldanerd24/ircdd/server/store/adapter"
	t "github.com/zeldanerd24/ircdd/server/store/types"
)

// Adapter is a minimal, goroutine-safe, in-memory adapter.Adapter. Change
// feeds fire on HeartbeatUserInGroup, RemoveUserFromGroup and
// SetGroupTopic; PushGroupState/PushGroupMeta additionally let tests inject
// a change directly.
type Adapter struct {
	mu     sync.Mutex
	open   bool
	users  map[string]*t.User
	sess   map[string]*t.UserSession
	groups map[string]*t.Group
	states map[string]*t.GroupState

	stateFeeds map[string][]*stateFeed
	metaFeeds  map[string][]*metaFeed
}

var _ adapter.Adapter = (*Adapter)(nil)

// New returns an unopened fake adapter.
func New() *Adapter {
	return &Adapter{
		users:      make(map[string]*t.User),
		sess:       make(map[string]*t.UserSession),
		groups:     make(map[string]*t.Group),
		states:     make(map[string]*t.GroupState),
		stateFeeds: make(map[string][]*stateFeed),
		metaFeeds:  make(map[string][]*metaFeed),
	}
}

func (a *Adapter) Open(string) error { a.mu.Lock(); a.open = true; a.mu.Unlock(); return nil }
func (a *Adapter) Close() error      { a.mu.Lock(); a.open = false; a.mu.Unlock(); return nil }
func (a *Adapter) IsOpen() bool      { a.mu.Lock(); defer a.mu.Unlock(); return a.open }

func (a *Adapter) CreateDb(reset bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if reset {
		a.users = make(map[string]*t.User)
		a.sess = make(map[string]*t.UserSession)
		a.groups = make(map[string]*t.Group)
		a.states = make(map[string]*t.GroupState)
	}
	return nil
}

func (a *Adapter) CreateUser(nick, email, password string, registered bool, permissions map[string][]t.Permission) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[nick]; ok {
		return nil
	}
	a.users[nick] = &t.User{ID: nick, Email: email, Password: password, Registered: registered, Permissions: permissions}
	return nil
}

func (a *Adapter) LookupUser(nick string) (*t.LookupUser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[nick]
	if !ok {
		return nil, nil
	}
	var channels []string
	for name, gs := range a.states {
		if _, member := gs.Users[nick]; member {
			channels = append(channels, name)
		}
	}
	return &t.LookupUser{User: u, Session: a.sess[nick], Channels: channels}, nil
}

func (a *Adapter) RegisterUser(nick, email, password string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[nick]
	if !ok {
		return ircerr.ErrNoSuchUser
	}
	u.Email, u.Password, u.Registered = email, password, true
	return nil
}

func (a *Adapter) DeleteUser(nick string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.users, nick)
	return nil
}

func (a *Adapter) SetPermission(nick, channel string, flag t.Permission) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[nick]
	if !ok {
		return ircerr.ErrNoSuchUser
	}
	if u.Permissions == nil {
		u.Permissions = make(map[string][]t.Permission)
	}
	u.Permissions[channel] = append(u.Permissions[channel], flag)
	return nil
}

func (a *Adapter) HeartbeatUserSession(nick string, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sess[nick]
	if !ok {
		a.sess[nick] = &t.UserSession{ID: nick, SessionStart: now, LastHeartbeat: now}
		return nil
	}
	s.LastHeartbeat = now
	return nil
}

func (a *Adapter) LookupUserSession(nick string) (*t.UserSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sess[nick], nil
}

func (a *Adapter) RemoveUserSession(nick string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sess, nick)
	return nil
}

func (a *Adapter) HeartbeatUserInGroup(nick, group string, now time.Time) error {
	a.mu.Lock()
	gs, ok := a.states[group]
	if !ok {
		gs = &t.GroupState{ID: group, Users: make(map[string]time.Time)}
		a.states[group] = gs
	}
	gs.Users[nick] = now
	cp := *gs
	cp.Users = cloneHeartbeats(gs.Users)
	a.mu.Unlock()
	a.fireState(group, &t.GroupStateChange{NewVal: &cp})
	return nil
}

func (a *Adapter) RemoveUserFromGroup(nick, group string) error {
	a.mu.Lock()
	gs, ok := a.states[group]
	if !ok {
		a.mu.Unlock()
		return nil
	}
	delete(gs.Users, nick)
	cp := *gs
	cp.Users = cloneHeartbeats(gs.Users)
	a.mu.Unlock()
	a.fireState(group, &t.GroupStateChange{NewVal: &cp})
	return nil
}

func (a *Adapter) CreateGroup(name string, kind t.GroupType) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.groups[name]; ok {
		return nil
	}
	a.groups[name] = &t.Group{ID: name, Name: name, Type: kind}
	if _, ok := a.states[name]; !ok {
		a.states[name] = &t.GroupState{ID: name, Users: make(map[string]time.Time)}
	}
	return nil
}

func (a *Adapter) LookupGroup(name string) (*t.LookupGroup, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[name]
	if !ok {
		return nil, nil
	}
	gs := a.states[name]
	var users map[string]time.Time
	if gs != nil {
		users = cloneHeartbeats(gs.Users)
	}
	return &t.LookupGroup{Group: g, Users: users}, nil
}

func (a *Adapter) ListGroups() ([]t.LookupGroup, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []t.LookupGroup
	for name, g := range a.groups {
		if g.Type != t.GroupPublic {
			continue
		}
		var users map[string]time.Time
		if gs := a.states[name]; gs != nil {
			users = cloneHeartbeats(gs.Users)
		}
		out = append(out, t.LookupGroup{Group: g, Users: users})
	}
	return out, nil
}

func (a *Adapter) DeleteGroup(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.groups, name)
	delete(a.states, name)
	return nil
}

func (a *Adapter) SetGroupTopic(name, topic, author string, now time.Time) error {
	a.mu.Lock()
	g, ok := a.groups[name]
	if !ok {
		a.mu.Unlock()
		return ircerr.ErrNoSuchGroup
	}
	g.Meta = t.GroupMeta{Topic: topic, TopicAuthor: author, TopicTime: now}
	cp := *g
	a.mu.Unlock()
	a.fireMeta(name, &t.GroupMetaChange{NewVal: &cp})
	return nil
}

func (a *Adapter) AddMessage(group, sender, text string, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[group]
	if !ok {
		return ircerr.ErrNoSuchGroup
	}
	g.Messages = append(g.Messages, t.GroupMessage{ID: int64(len(g.Messages) + 1), Sender: sender, Time: now, Text: text})
	return nil
}

func (a *Adapter) PrivateMessage(x, y string, when time.Time, text string) error {
	name := privateGroupName(x, y)
	if err := a.CreateGroup(name, t.GroupPrivate); err != nil {
		return err
	}
	return a.AddMessage(name, x, text, when)
}

func privateGroupName(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

func (a *Adapter) ObserveGroupState(name string) (adapter.GroupStateFeed, error) {
	f := &stateFeed{ch: make(chan *t.GroupStateChange, 16), done: make(chan struct{})}
	a.mu.Lock()
	a.stateFeeds[name] = append(a.stateFeeds[name], f)
	a.mu.Unlock()
	return f, nil
}

func (a *Adapter) ObserveGroupMeta(name string) (adapter.GroupMetaFeed, error) {
	f := &metaFeed{ch: make(chan *t.GroupMetaChange, 16), done: make(chan struct{})}
	a.mu.Lock()
	a.metaFeeds[name] = append(a.metaFeeds[name], f)
	a.mu.Unlock()
	return f, nil
}

// PushGroupState lets a test manually drive a state change without going
// through HeartbeatUserInGroup/RemoveUserFromGroup.
func (a *Adapter) PushGroupState(name string, change *t.GroupStateChange) {
	a.fireState(name, change)
}

// PushGroupMeta is the meta-document analogue of PushGroupState.
func (a *Adapter) PushGroupMeta(name string, change *t.GroupMetaChange) {
	a.fireMeta(name, change)
}

func (a *Adapter) fireState(name string, change *t.GroupStateChange) {
	a.mu.Lock()
	feeds := append([]*stateFeed(nil), a.stateFeeds[name]...)
	a.mu.Unlock()
	for _, f := range feeds {
		f.push(change)
	}
}

func (a *Adapter) fireMeta(name string, change *t.GroupMetaChange) {
	a.mu.Lock()
	feeds := append([]*metaFeed(nil), a.metaFeeds[name]...)
	a.mu.Unlock()
	for _, f := range feeds {
		f.push(change)
	}
}

func cloneHeartbeats(in map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type stateFeed struct {
	ch   chan *t.GroupStateChange
	done chan struct{}
}

func (f *stateFeed) push(c *t.GroupStateChange) {
	select {
	case f.ch <- c:
	case <-f.done:
	}
}

func (f *stateFeed) Next() (*t.GroupStateChange, error) {
	select {
	case c := <-f.ch:
		return c, nil
	case <-f.done:
		return nil, ircerr.Wrap(ircerr.KindStorageUnavailable, "feed closed", nil)
	}
}

func (f *stateFeed) Close() error {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	return nil
}

type metaFeed struct {
	ch   chan *t.GroupMetaChange
	done chan struct{}
}

func (f *metaFeed) push(c *t.GroupMetaChange) {
	select {
	case f.ch <- c:
	case <-f.done:
	}
}

func (f *metaFeed) Next() (*t.GroupMetaChange, error) {
	select {
	case c := <-f.ch:
		return c, nil
	case <-f.done:
		return nil, ircerr.Wrap(ircerr.KindStorageUnavailable, "feed closed", nil)
	}
}

func (f *metaFeed) Close() error {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	return nil
}
