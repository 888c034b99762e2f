// Package creds maps (username, password) to an avatar nickname, per the
// decision table in spec section 4.3. Password comparison is delegated to
// a checker so the caller may run it asynchronously (e.g. bcrypt).
package creds

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/zeldanerd24/ircdd/server/ircerr"
	"github.com/zeldanerd24/ircdd/server/store"
	t "github.com/zeldanerd24/ircdd/server/store/types"
)

// SessionTTL is the design value from spec section 3: three missed
// heartbeats (10s cadence) before a session is considered dead.
const SessionTTL = 30 * time.Second

// Credentials is what a client supplied to log in.
type Credentials struct {
	Nick     string
	Password string
}

// Checker compares a supplied password against a stored hash. Production
// wiring uses bcryptChecker; tests can stub it.
type Checker interface {
	Check(stored, supplied string) bool
}

type bcryptChecker struct{}

func (bcryptChecker) Check(stored, supplied string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
}

// HashPassword produces the stored form of a plaintext password.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", ircerr.Wrap(ircerr.KindStorageUnavailable, "failed to hash password", err)
	}
	return string(hash), nil
}

// Resolver implements resolve(credentials) against the Store.
type Resolver struct {
	// CreateOnRequest mirrors the config key user_on_request: whether a missing
	// user row should be created as an anonymous reservation.
	CreateOnRequest bool
	Checker         Checker
	Now             func() time.Time
}

// NewResolver builds a Resolver wired to bcrypt and wall-clock time.
func NewResolver(createOnRequest bool) *Resolver {
	return &Resolver{CreateOnRequest: createOnRequest, Checker: bcryptChecker{}, Now: time.Now}
}

// Resolve implements the decision table of spec section 4.3: it returns
// the nickname to log in as, or an *ircerr.Error of the appropriate kind.
func (r *Resolver) Resolve(creds Credentials) (string, error) {
	nick := t.NormalizeName(creds.Nick)
	if !t.ValidNick(nick) {
		return "", ircerr.Invalid("nick", "must match ^[A-Za-z0-9_-]{3,64}$")
	}

	lu, err := store.LookupUser(nick)
	if err != nil {
		return "", err
	}

	now := r.now()

	if lu == nil || lu.User == nil {
		// Row missing.
		if !r.CreateOnRequest {
			return "", ircerr.ErrUnauthorized
		}
		if err := store.CreateUser(nick, "", "", false, nil); err != nil {
			return "", err
		}
		return nick, nil
	}

	if lu.Session != nil && !lu.Session.Stale(SessionTTL, now) {
		// Present, session present and fresh: already logged in somewhere.
		return "", ircerr.ErrAlreadyLoggedIn
	}

	if !lu.User.Registered {
		// Anonymous reuse: no password check.
		return nick, nil
	}

	if r.Checker.Check(lu.User.Password, creds.Password) {
		return nick, nil
	}
	return "", ircerr.ErrUnauthorized
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
