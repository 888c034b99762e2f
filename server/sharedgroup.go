package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/zeldanerd24/ircdd/server/store"
	"github.com/zeldanerd24/ircdd/server/store/adapter"
	"github.com/zeldanerd24/ircdd/server/store/types"
)

// SharedGroup is the per-channel controller on one node, per spec
// section 4.5: members cache, meta cache, topic subscription, and local
// multicast. It exists on every node with at least one local member and
// is disposed when the last one parts.
type SharedGroup struct {
	name string
	bus  MessageBus

	mu            sync.Mutex
	users         map[string]time.Time // mirrors GroupState, cluster-wide
	localSessions map[string]ProtocolSession
	meta          types.GroupMeta

	stateFeed adapter.GroupStateFeed
	metaFeed  adapter.GroupMetaFeed
	closeOnce sync.Once
	stopped   chan struct{}
}

// NewSharedGroup constructs the controller: subscribes to the group's
// topic, loads meta and membership from the store, and launches the two
// long-lived change-feed observers, per spec section 4.5.
func NewSharedGroup(name string, bus MessageBus) (*SharedGroup, error) {
	g := &SharedGroup{
		name:          name,
		bus:           bus,
		users:         make(map[string]time.Time),
		localSessions: make(map[string]ProtocolSession),
		stopped:       make(chan struct{}),
	}

	if err := bus.Subscribe(name, g.receiveRemote); err != nil {
		return nil, err
	}

	lg, err := store.LookupGroup(name)
	if err != nil {
		bus.Unsubscribe(name)
		return nil, err
	}
	if lg != nil {
		if lg.Group != nil {
			g.meta = lg.Group.Meta
		}
		for nick, hb := range lg.Users {
			g.users[nick] = hb
		}
	}

	stateFeed, err := store.ObserveGroupState(name)
	if err != nil {
		log.Printf("sharedgroup %s: failed to start state observer: %v", name, err)
	} else {
		g.stateFeed = stateFeed
		go g.observeState(stateFeed)
	}

	metaFeed, err := store.ObserveGroupMeta(name)
	if err != nil {
		log.Printf("sharedgroup %s: failed to start meta observer: %v", name, err)
	} else {
		g.metaFeed = metaFeed
		go g.observeMeta(metaFeed)
	}

	return g, nil
}

// Name returns the channel name this controller represents.
func (g *SharedGroup) Name() string { return g.name }

// observeState runs on a dedicated worker goroutine (per spec section 5:
// it blocks on a streaming cursor) and posts every update back by taking
// the group's own lock to mutate users -- the worker never otherwise
// touches shared state.
func (g *SharedGroup) observeState(feed adapter.GroupStateFeed) {
	for {
		change, err := feed.Next()
		if err != nil {
			log.Printf("sharedgroup %s: state feed failed, membership frozen until restarted: %v", g.name, err)
			return
		}
		if change.NewVal == nil {
			continue
		}
		g.mu.Lock()
		g.users = change.NewVal.Users
		g.mu.Unlock()
	}
}

// observeMeta mirrors observeState for the Group document and additionally
// notifies local sessions whenever the topic changes, per invariant I4.
func (g *SharedGroup) observeMeta(feed adapter.GroupMetaFeed) {
	for {
		change, err := feed.Next()
		if err != nil {
			log.Printf("sharedgroup %s: meta feed failed, metadata frozen until restarted: %v", g.name, err)
			return
		}
		if change.NewVal == nil {
			continue
		}
		newMeta := change.NewVal.Meta

		g.mu.Lock()
		changed := g.meta != newMeta
		g.meta = newMeta
		sessions := g.sessionsSnapshotLocked()
		g.mu.Unlock()

		if changed {
			for _, s := range sessions {
				s.GroupMetaUpdate(g.name, newMeta)
			}
		}
	}
}

func (g *SharedGroup) sessionsSnapshotLocked() []ProtocolSession {
	out := make([]ProtocolSession, 0, len(g.localSessions))
	for _, s := range g.localSessions {
		out = append(out, s)
	}
	return out
}

// Close shuts down both change-feed observers and the bus subscription.
// Per spec section 5, cancellation is achieved by closing the feed's
// underlying connection; the observer goroutines exit on their next Next()
// call once that happens.
func (g *SharedGroup) Close() {
	g.closeOnce.Do(func() {
		close(g.stopped)
		if g.stateFeed != nil {
			g.stateFeed.Close()
		}
		if g.metaFeed != nil {
			g.metaFeed.Close()
		}
		g.bus.Unsubscribe(g.name)
	})
}

// Add attaches a local client session to the group, per spec section 4.5.
func (g *SharedGroup) Add(session ProtocolSession) {
	nick := session.Name()

	g.mu.Lock()
	if _, already := g.localSessions[nick]; already {
		g.mu.Unlock()
		return
	}
	g.localSessions[nick] = session
	others := g.sessionsSnapshotLocked()
	g.mu.Unlock()

	g.notifyAdd(nick, session.Hostname(), others, session)
	g.notifyShardsAdd(nick, session.Hostname())
}

// notifyAdd fires userJoined on every other local session. others is
// snapshotted after the new session was added, so added is skipped
// explicitly.
func (g *SharedGroup) notifyAdd(nick, hostname string, others []ProtocolSession, added ProtocolSession) {
	for _, s := range others {
		if s == added {
			continue
		}
		s.UserJoined(g.name, nick, hostname)
	}
}

// notifyShardsAdd publishes a join event on the group's topic.
func (g *SharedGroup) notifyShardsAdd(nick, hostname string) {
	g.bus.Publish(g.name, &MessageBody{
		Type:   BodyJoin,
		Sender: Sender{Name: nick, Hostname: hostname},
	})
}

// Remove detaches a local client session, per spec section 4.5.
func (g *SharedGroup) Remove(session ProtocolSession, reason string) {
	nick := session.Name()

	g.mu.Lock()
	existing, present := g.localSessions[nick]
	if !present {
		g.mu.Unlock()
		log.Printf("sharedgroup %s: remove requested for absent session %s", g.name, nick)
		return
	}
	delete(g.localSessions, nick)
	remaining := g.sessionsSnapshotLocked()
	g.mu.Unlock()

	for _, s := range remaining {
		s.UserLeft(g.name, nick, reason)
	}
	g.bus.Publish(g.name, &MessageBody{
		Type:   BodyPart,
		Sender: Sender{Name: nick, Hostname: existing.Hostname()},
		Reason: reason,
	})
}

// receive multicasts message to every local session other than the
// sender, per spec section 4.5. A failing session is removed from the
// group with the error as the part reason -- its failure never affects
// its peers.
func (g *SharedGroup) receive(senderName string, message *MessageBody) {
	g.mu.Lock()
	targets := make([]ProtocolSession, 0, len(g.localSessions))
	for nick, s := range g.localSessions {
		if nick != senderName {
			targets = append(targets, s)
		}
	}
	g.mu.Unlock()

	for _, s := range targets {
		if err := s.Receive(senderName, g, message); err != nil {
			log.Printf("sharedgroup %s: delivery to %s failed, removing: %v", g.name, s.Name(), err)
			g.Remove(s, err.Error())
		}
	}
}

// receiveRemote is the bus subscription handler for this group's topic.
// The bus has already filtered out self-originated messages (invariant
// I3) before this is ever called.
func (g *SharedGroup) receiveRemote(raw json.RawMessage) bool {
	var body MessageBody
	if err := json.Unmarshal(raw, &body); err != nil {
		log.Printf("sharedgroup %s: malformed bus message: %v", g.name, err)
		return true
	}

	switch body.Type {
	case BodyPrivmsg:
		g.receive(body.Sender.Name, &body)
	case BodyJoin:
		g.notifyAddRemote(body.Sender.Name, body.Sender.Hostname)
	case BodyPart:
		g.notifyRemoveRemote(body.Sender.Name, body.Reason)
	default:
		log.Printf("sharedgroup %s: unexpected message type %q on group topic", g.name, body.Type)
	}
	return true
}

// notifyAddRemote informs local sessions of a remote join without
// echoing anything back to the bus.
func (g *SharedGroup) notifyAddRemote(nick, hostname string) {
	g.mu.Lock()
	sessions := g.sessionsSnapshotLocked()
	g.mu.Unlock()
	for _, s := range sessions {
		s.UserJoined(g.name, nick, hostname)
	}
}

// notifyRemoveRemote informs local sessions of a remote part without
// echoing anything back to the bus.
func (g *SharedGroup) notifyRemoveRemote(nick, reason string) {
	g.mu.Lock()
	sessions := g.sessionsSnapshotLocked()
	g.mu.Unlock()
	for _, s := range sessions {
		s.UserLeft(g.name, nick, reason)
	}
}

// SetMetadata writes the new topic through to the store; the change feed
// drives the in-memory update and the local groupMetaUpdate notification.
func (g *SharedGroup) SetMetadata(topic, author string) error {
	return store.SetGroupTopic(g.name, topic, author)
}

// Meta returns the current, possibly-stale-by-one-change-feed-tick
// metadata cache.
func (g *SharedGroup) Meta() types.GroupMeta {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.meta
}

// Iterusers yields the union membership: the authoritative, cluster-wide
// roster mirrored from GroupState, per spec section 4.5.
func (g *SharedGroup) Iterusers() map[string]time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]time.Time, len(g.users))
	for k, v := range g.users {
		out[k] = v
	}
	return out
}

// LocalMembers returns the nicknames with a session attached on this node,
// used to check invariant I2 (local_sessions subset of GroupState.users).
func (g *SharedGroup) LocalMembers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.localSessions))
	for nick := range g.localSessions {
		out = append(out, nick)
	}
	return out
}
