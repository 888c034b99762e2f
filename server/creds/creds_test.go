package creds

import (
	"os"
	"testing"
	"time"

	"github.com/zeldanerd24/ircdd/server/ircerr"
	"github.com/zeldanerd24/ircdd/server/store"
	"github.com/zeldanerd24/ircdd/server/storetest"
)

// TestMain wires the in-memory fake adapter once for every test in this
// package, mirroring server/main_test.go's setup for the same reason:
// Resolve and store.RegisterUser both call through to the package-level
// store.* funcs, which need a registered adapter before anything else runs.
func TestMain(m *testing.M) {
	store.RegisterAdapter(storetest.New())
	if err := store.Open(""); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeChecker lets tests control the password-match outcome without
// hashing real bcrypt values.
type fakeChecker struct{ match bool }

func (f fakeChecker) Check(stored, supplied string) bool { return f.match }

func TestResolveInvalidNickRejectedBeforeAnyStoreCall(t *testing.T) {
	r := NewResolver(true)
	_, err := r.Resolve(Credentials{Nick: "a", Password: "whatever"})
	if !ircerr.Is(err, ircerr.KindInvalidField) {
		t.Fatalf("err = %v, want KindInvalidField for a too-short nick", err)
	}
}

func TestResolveMissingRowCreatesAnonymousWhenAllowed(t *testing.T) {
	r := NewResolver(true)
	nick, err := r.Resolve(Credentials{Nick: "creds-missing-1", Password: "whatever"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if nick != "creds-missing-1" {
		t.Fatalf("nick = %q, want creds-missing-1", nick)
	}
}

func TestResolveMissingRowRejectedWithoutCreateOnRequest(t *testing.T) {
	r := NewResolver(false)
	_, err := r.Resolve(Credentials{Nick: "creds-missing-2", Password: "whatever"})
	if !ircerr.Is(err, ircerr.KindUnauthorized) {
		t.Fatalf("err = %v, want KindUnauthorized", err)
	}
}

func TestResolveFreshSessionIsAlreadyLoggedIn(t *testing.T) {
	nick := "creds-fresh-1"
	if err := store.CreateUser(nick, "", "", false, nil); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.HeartbeatUserSession(nick); err != nil {
		t.Fatalf("HeartbeatUserSession: %v", err)
	}

	r := NewResolver(true)
	_, err := r.Resolve(Credentials{Nick: nick, Password: "whatever"})
	if !ircerr.Is(err, ircerr.KindAlreadyLoggedIn) {
		t.Fatalf("err = %v, want KindAlreadyLoggedIn", err)
	}
}

func TestResolveStaleSessionFallsThroughToAnonymousReuse(t *testing.T) {
	nick := "creds-stale-1"
	if err := store.CreateUser(nick, "", "", false, nil); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.HeartbeatUserSession(nick); err != nil {
		t.Fatalf("HeartbeatUserSession: %v", err)
	}

	r := NewResolver(true)
	r.Now = func() time.Time { return time.Now().Add(time.Hour) }
	got, err := r.Resolve(Credentials{Nick: nick, Password: "whatever"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != nick {
		t.Fatalf("nick = %q, want %q", got, nick)
	}
}

func TestResolveAnonymousRowSkipsPasswordCheck(t *testing.T) {
	nick := "creds-anon-1"
	if err := store.CreateUser(nick, "", "", false, nil); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	r := NewResolver(true)
	r.Checker = fakeChecker{match: false}
	got, err := r.Resolve(Credentials{Nick: nick, Password: "anything"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != nick {
		t.Fatalf("nick = %q, want %q (anonymous reuse never checks a password)", got, nick)
	}
}

func TestResolveRegisteredRowMatchingPassword(t *testing.T) {
	nick := "creds-reg-match-1"
	if err := store.CreateUser(nick, "reg@example.com", "hash", true, nil); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	r := NewResolver(true)
	r.Checker = fakeChecker{match: true}
	got, err := r.Resolve(Credentials{Nick: nick, Password: "correct-horse"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != nick {
		t.Fatalf("nick = %q, want %q", got, nick)
	}
}

func TestResolveRegisteredRowMismatchingPassword(t *testing.T) {
	nick := "creds-reg-mismatch-1"
	if err := store.CreateUser(nick, "reg@example.com", "hash", true, nil); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	r := NewResolver(true)
	r.Checker = fakeChecker{match: false}
	_, err := r.Resolve(Credentials{Nick: nick, Password: "wrong"})
	if !ircerr.Is(err, ircerr.KindUnauthorized) {
		t.Fatalf("err = %v, want KindUnauthorized", err)
	}
}

func TestSessionTTLIsThreeHeartbeats(t *testing.T) {
	const heartbeat = 10 * time.Second
	if SessionTTL != 3*heartbeat {
		t.Fatalf("SessionTTL = %v, want %v (3x the 10s heartbeat cadence)", SessionTTL, 3*heartbeat)
	}
}

// The following exercise store.RegisterUser's regex validation (invariant
// I6). They live here rather than in server/store because this package
// already carries the TestMain fixture registering the fake adapter.

func TestRegisterUserRejectsInvalidNick(t *testing.T) {
	err := store.RegisterUser("a", "valid@example.com", "validpw")
	if !ircerr.Is(err, ircerr.KindInvalidField) {
		t.Fatalf("err = %v, want KindInvalidField for a too-short nick", err)
	}
}

func TestRegisterUserRejectsInvalidEmail(t *testing.T) {
	nick := "creds-regerr-email"
	if err := store.CreateUser(nick, "", "", false, nil); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	err := store.RegisterUser(nick, "not-an-email", "validpw")
	if !ircerr.Is(err, ircerr.KindInvalidField) {
		t.Fatalf("err = %v, want KindInvalidField for a malformed email", err)
	}
}

func TestRegisterUserRejectsInvalidPassword(t *testing.T) {
	nick := "creds-regerr-password"
	if err := store.CreateUser(nick, "", "", false, nil); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	err := store.RegisterUser(nick, "valid@example.com", "no")
	if !ircerr.Is(err, ircerr.KindInvalidField) {
		t.Fatalf("err = %v, want KindInvalidField for a too-short password", err)
	}
}
