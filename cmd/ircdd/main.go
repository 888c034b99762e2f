// Command ircdd boots one node of the cluster: it wires the RethinkDB
// store, the NSQ bus, and the Realm directory, then hands the resulting
// Realm to a wire-layer listener. The wire layer itself -- accepting TCP
// connections, parsing IRC lines, and producing numeric replies -- is an
// external collaborator's job; this command only performs the startup
// plumbing, grounded on tinode-db/main.go's flag-parse-then-dispatch
// shape, generalized from a one-shot DB tool to a long-running daemon.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"

	"github.com/zeldanerd24/ircdd/server"
	"github.com/zeldanerd24/ircdd/server/bus"
	"github.com/zeldanerd24/ircdd/server/config"
	"github.com/zeldanerd24/ircdd/server/creds"
	"github.com/zeldanerd24/ircdd/server/metrics"
	"github.com/zeldanerd24/ircdd/server/store"
	"github.com/zeldanerd24/ircdd/server/store/rethinkdb"
)

func main() {
	var (
		conffile = flag.String("config", "", "path to the YAML config file")
		hostname = flag.String("hostname", "", "override config hostname")
		port     = flag.Int("port", 0, "override config port")
		nodeOrd  = flag.Int("node", 1, "this node's ordinal, seeds the message-id generator")
		reset    = flag.Bool("reset", false, "drop and recreate the database tables on startup")
	)
	flag.Parse()

	cfg, err := config.Load(*conffile, config.Config{Hostname: *hostname, Port: *port})
	if err != nil {
		log.Fatal("ircdd: failed to load config: ", err)
	}

	adp, err := rethinkdb.New(uint8(*nodeOrd))
	if err != nil {
		log.Fatal("ircdd: failed to build store adapter: ", err)
	}
	store.RegisterAdapter(adp)

	rdbConfig, err := json.Marshal(struct {
		Database  string   `json:"database"`
		Addresses []string `json:"addresses"`
	}{
		Database:  cfg.DB,
		Addresses: []string{fmt.Sprintf("%s:%d", cfg.RDBHost, cfg.RDBPort)},
	})
	if err != nil {
		log.Fatal("ircdd: failed to encode store config: ", err)
	}
	if err := store.Open(string(rdbConfig)); err != nil {
		log.Fatal("ircdd: failed to open store: ", err)
	}
	defer store.Close()

	if err := store.CreateDb(*reset); err != nil {
		log.Fatal("ircdd: failed to create db: ", err)
	}

	m := metrics.New(cfg.Hostname)

	nsqdAddr := "localhost:4150"
	if len(cfg.NSQDTCPAddress) > 0 {
		nsqdAddr = cfg.NSQDTCPAddress[0]
	}
	b, err := bus.New(bus.Config{
		NodeName:         cfg.Hostname,
		NSQDAddress:      nsqdAddr,
		LookupdHTTPAddrs: cfg.LookupdHTTPAddress,
		Metrics:          m,
	})
	if err != nil {
		log.Fatal("ircdd: failed to connect bus: ", err)
	}
	defer b.Close()

	resolver := creds.NewResolver(cfg.UserOnRequest)
	realm := server.NewRealm(b, resolver, m, cfg.GroupOnRequest)

	log.Printf("ircdd: node %q listening on %s:%d (ssl=%v)", cfg.Hostname, cfg.Hostname, cfg.Port, cfg.SSL)

	// The wire layer -- accepting connections on cfg.Port, speaking IRC,
	// and calling realm.RequestAvatar per spec section 4.6 -- is supplied
	// by an external protocol adapter; this command only constructs and
	// exposes the Realm it drives.
	runProtocolAdapter(realm)
}

// runProtocolAdapter blocks for the life of the process. A real build
// links in a ProtocolAdapter implementation that accepts connections and
// drives realm; this tree only provides the contract (server.ProtocolSession)
// and the directory it is driven through.
func runProtocolAdapter(realm *server.Realm) {
	_ = realm
	select {}
}
