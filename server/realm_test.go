package server

import (
	"testing"

	"github.com/zeldanerd24/ircdd/server/creds"
	"github.com/zeldanerd24/ircdd/server/ircerr"
)

func newTestRealm(createUserOnRequest, groupOnRequest bool) (*Realm, *fakeBus) {
	b := newFakeBus()
	resolver := creds.NewResolver(createUserOnRequest)
	return NewRealm(b, resolver, nil, groupOnRequest), b
}

func TestRealmRequestAvatarCreatesAnonymousUser(t *testing.T) {
	realm, _ := newTestRealm(true, false)

	session := newFakeSession("erin-r1")
	u, logout, err := realm.RequestAvatar(creds.Credentials{Nick: "erin-r1"}, session)
	if err != nil {
		t.Fatalf("RequestAvatar: %v", err)
	}
	defer logout()

	if u.Name() != "erin-r1" {
		t.Fatalf("u.Name() = %q, want erin-r1", u.Name())
	}
	if u.IsProxy() {
		t.Fatal("expected a live (non-proxy) avatar right after RequestAvatar")
	}
}

func TestRealmRequestAvatarAlreadyLoggedIn(t *testing.T) {
	realm, _ := newTestRealm(true, false)

	_, logout, err := realm.RequestAvatar(creds.Credentials{Nick: "frank-r2"}, newFakeSession("frank-r2"))
	if err != nil {
		t.Fatalf("first RequestAvatar: %v", err)
	}
	defer logout()

	_, _, err = realm.RequestAvatar(creds.Credentials{Nick: "frank-r2"}, newFakeSession("frank-r2"))
	if !ircerr.Is(err, ircerr.KindAlreadyLoggedIn) {
		t.Fatalf("second RequestAvatar error = %v, want KindAlreadyLoggedIn", err)
	}
}

func TestRealmRequestAvatarRejectedWithoutCreateOnRequest(t *testing.T) {
	realm, _ := newTestRealm(false, false)

	_, _, err := realm.RequestAvatar(creds.Credentials{Nick: "grace-r3"}, newFakeSession("grace-r3"))
	if !ircerr.Is(err, ircerr.KindUnauthorized) {
		t.Fatalf("err = %v, want KindUnauthorized", err)
	}
}

func TestRealmLookupUserLocalHit(t *testing.T) {
	realm, _ := newTestRealm(true, false)

	_, logout, err := realm.RequestAvatar(creds.Credentials{Nick: "heidi-r4"}, newFakeSession("heidi-r4"))
	if err != nil {
		t.Fatalf("RequestAvatar: %v", err)
	}
	defer logout()

	u, err := realm.LookupUser("heidi-r4")
	if err != nil {
		t.Fatalf("LookupUser: %v", err)
	}
	if u.Name() != "heidi-r4" {
		t.Fatalf("u.Name() = %q, want heidi-r4", u.Name())
	}
}

func TestRealmLookupUserNoSuchUser(t *testing.T) {
	realm, _ := newTestRealm(true, false)

	_, err := realm.LookupUser("nobody-r5")
	if !ircerr.Is(err, ircerr.KindNoSuchUser) {
		t.Fatalf("err = %v, want KindNoSuchUser", err)
	}
}

func TestRealmCreateGroupIsIdempotent(t *testing.T) {
	realm, _ := newTestRealm(true, false)

	g1, err := realm.CreateGroup("room-r6")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	defer g1.Close()

	g2, err := realm.CreateGroup("room-r6")
	if err != nil {
		t.Fatalf("CreateGroup (second call): %v", err)
	}
	if g1 != g2 {
		t.Fatal("expected CreateGroup to return the same controller on a repeat call")
	}
}

func TestRealmGetGroupHonorsGroupOnRequest(t *testing.T) {
	realm, _ := newTestRealm(true, false)

	if _, err := realm.GetGroup("room-r7"); !ircerr.Is(err, ircerr.KindNoSuchGroup) {
		t.Fatalf("err = %v, want KindNoSuchGroup with GroupOnRequest=false", err)
	}

	realm.GroupOnRequest = true
	g, err := realm.GetGroup("room-r7")
	if err != nil {
		t.Fatalf("GetGroup with GroupOnRequest=true: %v", err)
	}
	defer g.Close()
	if g.Name() != "room-r7" {
		t.Fatalf("g.Name() = %q, want room-r7", g.Name())
	}
}

func TestRealmDisposeGroupRemovesFromRegistry(t *testing.T) {
	realm, _ := newTestRealm(true, false)

	if _, err := realm.CreateGroup("room-r8"); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	realm.DisposeGroup("room-r8")

	if _, err := realm.LookupGroup("room-r8"); !ircerr.Is(err, ircerr.KindNoSuchGroup) {
		t.Fatalf("LookupGroup after dispose: err = %v, want KindNoSuchGroup", err)
	}
}
