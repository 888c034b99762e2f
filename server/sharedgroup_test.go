package server

import (
	"testing"
	"time"

	"github.com/zeldanerd24/ircdd/server/store"
	"github.com/zeldanerd24/ircdd/server/store/types"
)

func TestSharedGroupAddNotifiesExistingMembersOnly(t *testing.T) {
	bus := newFakeBus()
	if err := store.CreateGroup("chan-sg1", types.GroupPublic); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	g, err := NewSharedGroup("chan-sg1", bus)
	if err != nil {
		t.Fatalf("NewSharedGroup: %v", err)
	}
	defer g.Close()

	alice := newFakeSession("alice-sg1")
	g.Add(alice)

	bob := newFakeSession("bob-sg1")
	g.Add(bob)

	// alice should have seen bob join; bob should not have seen himself.
	alice.mu.Lock()
	aliceJoins := append([]string(nil), alice.joins...)
	alice.mu.Unlock()
	if len(aliceJoins) != 1 || aliceJoins[0] != "bob-sg1" {
		t.Fatalf("alice.joins = %v, want [bob-sg1]", aliceJoins)
	}

	bob.mu.Lock()
	bobJoins := append([]string(nil), bob.joins...)
	bob.mu.Unlock()
	if len(bobJoins) != 0 {
		t.Fatalf("bob.joins = %v, want none", bobJoins)
	}
}

func TestSharedGroupReceiveSkipsSender(t *testing.T) {
	bus := newFakeBus()
	if err := store.CreateGroup("chan-sg2", types.GroupPublic); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	g, err := NewSharedGroup("chan-sg2", bus)
	if err != nil {
		t.Fatalf("NewSharedGroup: %v", err)
	}
	defer g.Close()

	alice := newFakeSession("alice-sg2")
	bob := newFakeSession("bob-sg2")
	g.Add(alice)
	g.Add(bob)

	g.receive("alice-sg2", &MessageBody{Text: "hi"})

	if len(alice.messages()) != 0 {
		t.Fatalf("sender should not receive its own message, got %v", alice.messages())
	}
	got := bob.messages()
	if len(got) != 1 || got[0].text != "hi" {
		t.Fatalf("bob.messages() = %v, want one message \"hi\"", got)
	}
}

func TestSharedGroupRemoveOnFailingDelivery(t *testing.T) {
	bus := newFakeBus()
	if err := store.CreateGroup("chan-sg3", types.GroupPublic); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	g, err := NewSharedGroup("chan-sg3", bus)
	if err != nil {
		t.Fatalf("NewSharedGroup: %v", err)
	}
	defer g.Close()

	alice := newFakeSession("alice-sg3")
	bob := newFakeSession("bob-sg3")
	g.Add(alice)
	g.Add(bob)

	bob.mu.Lock()
	bob.failNext = true
	bob.mu.Unlock()

	g.receive("alice-sg3", &MessageBody{Text: "hi"})

	if len(g.LocalMembers()) != 1 {
		t.Fatalf("expected bob removed after failing delivery, local members = %v", g.LocalMembers())
	}
}

func TestSharedGroupObserveStateUpdatesMembership(t *testing.T) {
	bus := newFakeBus()
	if err := store.CreateGroup("chan-sg4", types.GroupPublic); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	g, err := NewSharedGroup("chan-sg4", bus)
	if err != nil {
		t.Fatalf("NewSharedGroup: %v", err)
	}
	defer g.Close()

	if err := store.HeartbeatUserInGroup("remote-user-sg4", "chan-sg4"); err != nil {
		t.Fatalf("HeartbeatUserInGroup: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := g.Iterusers()["remote-user-sg4"]; ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Iterusers() never converged to include remote-user-sg4: %v", g.Iterusers())
}
