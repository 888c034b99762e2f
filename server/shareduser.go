package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/zeldanerd24/ircdd/server/ircerr"
	"github.com/zeldanerd24/ircdd/server/store"
	"github.com/zeldanerd24/ircdd/server/store/types"
)

// Heartbeat cadence from spec section 6.
const heartbeatPeriod = 10 * time.Second

// SharedUser is the per-logged-in-user controller: session heartbeat, own
// inbox subscription, and message send fan-out, per spec section 4.4. The
// same type, with a stub session, plays the role of a proxy for a remote
// nickname.
type SharedUser struct {
	name string
	bus  MessageBus

	mu          sync.Mutex
	mind        ProtocolSession
	groups      map[string]bool
	lastMessage time.Time

	heartbeatDone chan struct{}
	presenceDone  chan struct{}
}

// NewSharedUser constructs the controller and subscribes it to its own
// topic (its nickname) on the bus.
func NewSharedUser(name string, bus MessageBus) *SharedUser {
	u := &SharedUser{
		name:   name,
		bus:    bus,
		groups: make(map[string]bool),
	}
	if err := bus.Subscribe(name, u.receiveRemote); err != nil {
		log.Printf("shareduser %s: failed to subscribe to own topic: %v", name, err)
	}
	return u
}

// Name returns the nickname this controller represents.
func (u *SharedUser) Name() string { return u.name }

// IsProxy reports whether this SharedUser has no locally attached client
// session, i.e. it represents a nickname whose connection lives on another
// node.
func (u *SharedUser) IsProxy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.mind.(*proxySession)
	return u.mind == nil || ok
}

// LoggedIn binds session to this controller, sends an immediate session
// heartbeat, and starts the two periodic heartbeat tasks, per spec
// section 4.4.
func (u *SharedUser) LoggedIn(session ProtocolSession) error {
	u.mu.Lock()
	u.mind = session
	u.mu.Unlock()

	if err := store.HeartbeatUserSession(u.name); err != nil {
		return err
	}

	u.heartbeatDone = make(chan struct{})
	u.presenceDone = make(chan struct{})

	go u.runSessionHeartbeat(u.heartbeatDone)
	go u.runPresenceHeartbeat(u.presenceDone)

	return nil
}

func (u *SharedUser) runSessionHeartbeat(done chan struct{}) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Cooperative: a missed tick only delays eviction, never fatal.
			if err := store.HeartbeatUserSession(u.name); err != nil {
				log.Printf("shareduser %s: session heartbeat failed: %v", u.name, err)
			}
		case <-done:
			return
		}
	}
}

func (u *SharedUser) runPresenceHeartbeat(done chan struct{}) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, g := range u.joinedGroups() {
				if err := store.HeartbeatUserInGroup(u.name, g); err != nil {
					log.Printf("shareduser %s: group presence heartbeat for %s failed: %v", u.name, g, err)
				}
			}
		case <-done:
			return
		}
	}
}

func (u *SharedUser) joinedGroups() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.groups))
	for g := range u.groups {
		out = append(out, g)
	}
	return out
}

// Logout stops the timers, leaves every joined group, and deletes the
// UserSession row, per spec section 4.4.
func (u *SharedUser) Logout(realm *Realm) {
	if u.heartbeatDone != nil {
		close(u.heartbeatDone)
	}
	if u.presenceDone != nil {
		close(u.presenceDone)
	}

	for _, name := range u.joinedGroups() {
		if g := realm.groupGet(name); g != nil {
			u.leave(g, "logout")
		}
	}

	if err := store.RemoveUserSession(u.name); err != nil {
		log.Printf("shareduser %s: failed to remove session on logout: %v", u.name, err)
	}
}

// Send delivers message to recipient: sets sender/recipient/type fields,
// publishes on the recipient's topic, and also delivers locally so this
// shard's own fan-out never round-trips the queue, per spec section 4.4
// and the section 5 ordering rule (local delivery happens before the
// remote publish is observed by anyone).
func (u *SharedUser) Send(recipient *SharedUser, hostname string, message *MessageBody) {
	message.Sender = Sender{Name: u.name, Hostname: hostname}
	message.Recipient = recipient.name
	message.Type = BodyPrivmsg

	u.mu.Lock()
	u.lastMessage = time.Now().UTC()
	u.mu.Unlock()

	// Local first, then publish: per spec section 9 design note fixing the
	// indeterminate join/part ordering from the original implementation.
	recipient.receive(u.name, message)
	u.bus.Publish(recipient.name, message)
}

// receive forwards one chat message to the attached session, if any. With
// no session attached it is silently dropped; a proxy's stub session only
// logs receipt -- the remote node hosting the real session will deliver it
// via the bus.
func (u *SharedUser) receive(senderName string, message *MessageBody) {
	u.mu.Lock()
	mind := u.mind
	u.mu.Unlock()
	if mind == nil {
		return
	}
	if err := mind.Receive(senderName, u, message); err != nil {
		log.Printf("shareduser %s: session receive failed: %v", u.name, err)
	}
}

// receiveRemote is the bus subscription handler for this user's own topic.
// The bus has already filtered out self-originated messages (invariant I3)
// before this is ever called.
func (u *SharedUser) receiveRemote(raw json.RawMessage) bool {
	var body MessageBody
	if err := json.Unmarshal(raw, &body); err != nil {
		log.Printf("shareduser %s: malformed bus message: %v", u.name, err)
		return true
	}
	switch body.Type {
	case BodyPrivmsg:
		u.receive(body.Sender.Name, &body)
	default:
		log.Printf("shareduser %s: unexpected message type %q on user topic", u.name, body.Type)
	}
	return true
}

// join delegates to the group's add and records the membership locally
// and in the store, per spec section 4.4.
func (u *SharedUser) join(group *SharedGroup) error {
	u.mu.Lock()
	mind := u.mind
	u.mu.Unlock()
	if mind == nil {
		return ircerr.New(ircerr.KindUnauthorized, "cannot join without an attached session")
	}

	group.Add(mind)

	u.mu.Lock()
	u.groups[group.Name()] = true
	u.mu.Unlock()

	return store.HeartbeatUserInGroup(u.name, group.Name())
}

// leave delegates to the group's remove and drops the local membership
// record, per spec section 4.4.
func (u *SharedUser) leave(group *SharedGroup, reason string) {
	u.mu.Lock()
	mind := u.mind
	delete(u.groups, group.Name())
	u.mu.Unlock()

	if mind != nil {
		group.Remove(mind, reason)
	}

	if err := store.RemoveUserFromGroup(u.name, group.Name()); err != nil {
		log.Printf("shareduser %s: failed to remove group presence for %s: %v", u.name, group.Name(), err)
	}
}

// proxySession is the stub session a proxy SharedUser carries: it exists
// so local code can uniformly address remote users by name, per spec
// section 4.4. It only logs receipt.
type proxySession struct {
	name     string
	hostname string
}

// newProxySession builds the stub session for a proxy SharedUser.
func newProxySession(name, hostname string) *proxySession {
	return &proxySession{name: name, hostname: hostname}
}

func (p *proxySession) Name() string     { return p.name }
func (p *proxySession) Hostname() string { return p.hostname }

func (p *proxySession) Receive(senderName string, self interface{}, message *MessageBody) error {
	log.Printf("proxy %s: received message from %s (no local client attached)", p.name, senderName)
	return nil
}

func (p *proxySession) UserJoined(group, nick, hostname string) {
	log.Printf("proxy %s: %s joined %s (no local client attached)", p.name, nick, group)
}

func (p *proxySession) UserLeft(group, nick, reason string) {
	log.Printf("proxy %s: %s left %s (no local client attached)", p.name, nick, group)
}

func (p *proxySession) GroupMetaUpdate(group string, meta types.GroupMeta) {}
