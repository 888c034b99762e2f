package server

import (
	"testing"
	"time"

	"github.com/zeldanerd24/ircdd/server/store"
)

func TestSharedUserLoggedInHeartbeatsImmediately(t *testing.T) {
	bus := newFakeBus()
	u := NewSharedUser("alice-su1", bus)
	session := newFakeSession("alice-su1")

	if err := u.LoggedIn(session); err != nil {
		t.Fatalf("LoggedIn: %v", err)
	}
	defer func() {
		close(u.heartbeatDone)
		close(u.presenceDone)
	}()

	if s, err := store.LookupUserSession("alice-su1"); err != nil || s == nil {
		t.Fatalf("expected a session row right after LoggedIn, got %v (err %v)", s, err)
	}

	if u.IsProxy() {
		t.Fatalf("expected IsProxy() false right after LoggedIn, u.mind is %#v", u.mind)
	}
}

func TestSharedUserIsProxyWithNoSession(t *testing.T) {
	bus := newFakeBus()
	u := NewSharedUser("bob-su2", bus)
	if !u.IsProxy() {
		t.Fatal("expected IsProxy() true before any LoggedIn call")
	}
}

func TestSharedUserSendDeliversLocallyBeforePublish(t *testing.T) {
	bus := newFakeBus()

	sender := NewSharedUser("carol-su3", bus)
	senderSession := newFakeSession("carol-su3")
	if err := sender.LoggedIn(senderSession); err != nil {
		t.Fatalf("sender LoggedIn: %v", err)
	}
	defer func() { close(sender.heartbeatDone); close(sender.presenceDone) }()

	recipient := NewSharedUser("dave-su3", bus)
	recipientSession := newFakeSession("dave-su3")
	if err := recipient.LoggedIn(recipientSession); err != nil {
		t.Fatalf("recipient LoggedIn: %v", err)
	}
	defer func() { close(recipient.heartbeatDone); close(recipient.presenceDone) }()

	sender.Send(recipient, "node-a", &MessageBody{Text: "hello"})

	got := recipientSession.messages()
	if len(got) != 1 || got[0].sender != "carol-su3" || got[0].text != "hello" {
		t.Fatalf("unexpected delivery: %#v", got)
	}

	published := bus.publishedOn("dave-su3")
	if len(published) != 1 {
		t.Fatalf("expected exactly one publish on recipient's topic, got %d", len(published))
	}
}

func TestSharedUserJoinedGroupsSnapshot(t *testing.T) {
	u := &SharedUser{groups: map[string]bool{"chan1": true, "chan2": true}}
	got := u.joinedGroups()
	if len(got) != 2 {
		t.Fatalf("expected 2 joined groups, got %v", got)
	}
}

func TestSessionTTLIsThreeHeartbeats(t *testing.T) {
	if heartbeatPeriod*3 != 30*time.Second {
		t.Fatalf("heartbeatPeriod*3 = %v, want 30s", heartbeatPeriod*3)
	}
}
