package server

import (
	"os"
	"testing"

	"github.com/zeldanerd24/ircdd/server/store"
	"github.com/zeldanerd24/ircdd/server/storetest"
)

// TestMain wires the in-memory fake adapter once for every test in this
// package, mirroring how cmd/ircdd/main.go wires the real RethinkDB
// adapter at process startup.
func TestMain(m *testing.M) {
	store.RegisterAdapter(storetest.New())
	if err := store.Open(""); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
