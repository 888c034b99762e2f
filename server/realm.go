package server

import (
	"sync"

	"github.com/zeldanerd24/ircdd/server/creds"
	"github.com/zeldanerd24/ircdd/server/ircerr"
	"github.com/zeldanerd24/ircdd/server/metrics"
	"github.com/zeldanerd24/ircdd/server/store"
	t "github.com/zeldanerd24/ircdd/server/store/types"
)

// Realm is the per-node directory: the local SharedUser/SharedGroup
// registries, the login resolver, and the factory methods that turn
// lookups into either an existing local controller, a freshly
// materialized proxy, or a directory error, per spec section 4.6.
type Realm struct {
	bus      MessageBus
	resolver *creds.Resolver
	metrics  *metrics.Counters

	// GroupOnRequest mirrors the config key group_on_request: whether
	// getGroup creates a missing channel rather than failing NoSuchGroup.
	GroupOnRequest bool

	mu     sync.Mutex
	users  map[string]*SharedUser
	groups map[string]*SharedGroup
}

// NewRealm builds an empty directory over bus, with resolver governing
// the login decision table and groupOnRequest mirroring the matching
// config flag.
func NewRealm(bus MessageBus, resolver *creds.Resolver, m *metrics.Counters, groupOnRequest bool) *Realm {
	return &Realm{
		bus:            bus,
		resolver:       resolver,
		metrics:        m,
		GroupOnRequest: groupOnRequest,
		users:          make(map[string]*SharedUser),
		groups:         make(map[string]*SharedGroup),
	}
}

// RequestAvatar resolves creds to a nickname, binds session to its
// SharedUser (failing AlreadyLoggedIn if another node -- or this one --
// already holds a live session for it), and returns the bound
// SharedUser plus a LogoutFunc the wire layer must invoke when the
// connection ends, per spec section 4.6.
func (r *Realm) RequestAvatar(c creds.Credentials, session ProtocolSession) (*SharedUser, LogoutFunc, error) {
	nick, err := r.resolver.Resolve(c)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	u, exists := r.users[nick]
	if exists && !u.IsProxy() {
		r.mu.Unlock()
		return nil, nil, ircerr.ErrAlreadyLoggedIn
	}
	if !exists {
		u = NewSharedUser(nick, r.bus)
		r.users[nick] = u
		if r.metrics != nil {
			r.metrics.UserAdded()
		}
	}
	r.mu.Unlock()

	if err := u.LoggedIn(session); err != nil {
		return nil, nil, err
	}

	logout := func() {
		u.Logout(r)
		r.mu.Lock()
		delete(r.users, nick)
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.UserRemoved()
		}
	}

	return u, logout, nil
}

// LookupUser implements spec section 4.6's three-step resolution: local
// hit, materialized proxy, or NoSuchUser.
func (r *Realm) LookupUser(nick string) (*SharedUser, error) {
	nick = t.NormalizeName(nick)

	r.mu.Lock()
	if u, ok := r.users[nick]; ok {
		r.mu.Unlock()
		return u, nil
	}
	r.mu.Unlock()

	lu, err := store.LookupUser(nick)
	if err != nil {
		return nil, err
	}
	if lu == nil || lu.User == nil || lu.Session == nil {
		return nil, ircerr.ErrNoSuchUser
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[nick]; ok {
		return u, nil
	}
	u := NewSharedUser(nick, r.bus)
	u.mind = newProxySession(nick, "")
	r.users[nick] = u
	if r.metrics != nil {
		r.metrics.UserAdded()
	}
	return u, nil
}

// LookupGroup is local-only, per spec section 4.6: it never materializes
// a remote channel.
func (r *Realm) LookupGroup(name string) (*SharedGroup, error) {
	name = t.NormalizeName(name)
	g := r.groupGet(name)
	if g == nil {
		return nil, ircerr.ErrNoSuchGroup
	}
	return g, nil
}

// groupGet is the lock-guarded accessor SharedUser.Logout uses to find a
// joined group by name without going through the NoSuchGroup error path.
func (r *Realm) groupGet(name string) *SharedGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups[name]
}

// GetGroup looks up name, and if GroupOnRequest is set, creates it on a
// miss instead of failing, per spec section 4.6.
func (r *Realm) GetGroup(name string) (*SharedGroup, error) {
	name = t.NormalizeName(name)
	if g := r.groupGet(name); g != nil {
		return g, nil
	}
	if !r.GroupOnRequest {
		return nil, ircerr.ErrNoSuchGroup
	}
	return r.CreateGroup(name)
}

// CreateGroup ensures a Group row exists in the store (type public if it
// must be created), then constructs and registers the SharedGroup
// controller, per spec section 4.6. A concurrent DuplicateGroup from the
// store is recovered into a lookup, matching the teacher's
// create-then-fall-back-to-lookup idiom.
func (r *Realm) CreateGroup(name string) (*SharedGroup, error) {
	name = t.NormalizeName(name)

	r.mu.Lock()
	if g, ok := r.groups[name]; ok {
		r.mu.Unlock()
		return g, nil
	}
	r.mu.Unlock()

	if err := store.CreateGroup(name, t.GroupPublic); err != nil && !ircerr.Is(err, ircerr.KindDuplicateGroup) {
		return nil, err
	}

	g, err := NewSharedGroup(name, r.bus)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.groups[name]; ok {
		r.mu.Unlock()
		g.Close()
		return existing, nil
	}
	r.groups[name] = g
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.GroupAdded()
	}
	return g, nil
}

// CreateUser mirrors CreateGroup but, per spec section 4.6, performs no
// store write of its own: user rows come into existence only through the
// credential path (RequestAvatar / the resolver's CreateOnRequest).
func (r *Realm) CreateUser(nick string) (*SharedUser, error) {
	nick = t.NormalizeName(nick)

	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[nick]; ok {
		return u, nil
	}
	u := NewSharedUser(nick, r.bus)
	r.users[nick] = u
	if r.metrics != nil {
		r.metrics.UserAdded()
	}
	return u, nil
}

// DisposeGroup drops a SharedGroup once its last local member has
// parted, per spec section 3's lifecycle note. Callers are expected to
// check LocalMembers() is empty first; this is not enforced here since
// join/leave already hold the only reference worth disposing.
func (r *Realm) DisposeGroup(name string) {
	name = t.NormalizeName(name)

	r.mu.Lock()
	g, ok := r.groups[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.groups, name)
	r.mu.Unlock()

	g.Close()
	if r.metrics != nil {
		r.metrics.GroupRemoved()
	}
}
