// Package metrics exposes the ambient observability counters: expvar, in
// the teacher's own style (hub.go's topicsLive), plus Prometheus gauges
// registered alongside for scraping.
package metrics

import (
	"expvar"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters groups every exported gauge/counter this node maintains.
type Counters struct {
	LiveGroups *expvar.Int
	LiveUsers  *expvar.Int

	groupsGauge prometheus.Gauge
	usersGauge  prometheus.Gauge
	busPublish  prometheus.Counter
	busConsume  prometheus.Counter
}

// New registers the expvar and Prometheus instruments for one node. Safe
// to call once per process; registering twice panics, matching
// expvar.Publish's own behavior.
func New(nodeName string) *Counters {
	c := &Counters{
		LiveGroups: new(expvar.Int),
		LiveUsers:  new(expvar.Int),
		groupsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ircdd_live_groups",
			Help:        "Number of SharedGroups with at least one local member.",
			ConstLabels: prometheus.Labels{"node": nodeName},
		}),
		usersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ircdd_live_users",
			Help:        "Number of SharedUsers (local and proxy) held by this node.",
			ConstLabels: prometheus.Labels{"node": nodeName},
		}),
		busPublish: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ircdd_bus_publish_total",
			Help:        "Messages published to the bus by this node.",
			ConstLabels: prometheus.Labels{"node": nodeName},
		}),
		busConsume: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ircdd_bus_consume_total",
			Help:        "Non-self-originated messages delivered to a handler.",
			ConstLabels: prometheus.Labels{"node": nodeName},
		}),
	}

	expvar.Publish("LiveGroups_"+nodeName, c.LiveGroups)
	expvar.Publish("LiveUsers_"+nodeName, c.LiveUsers)

	prometheus.MustRegister(c.groupsGauge, c.usersGauge, c.busPublish, c.busConsume)

	return c
}

// GroupAdded records a SharedGroup coming online.
func (c *Counters) GroupAdded() {
	c.LiveGroups.Add(1)
	c.groupsGauge.Inc()
}

// GroupRemoved records a SharedGroup going offline.
func (c *Counters) GroupRemoved() {
	c.LiveGroups.Add(-1)
	c.groupsGauge.Dec()
}

// UserAdded records a SharedUser (local or proxy) being created.
func (c *Counters) UserAdded() {
	c.LiveUsers.Add(1)
	c.usersGauge.Inc()
}

// UserRemoved records a SharedUser being dropped.
func (c *Counters) UserRemoved() {
	c.LiveUsers.Add(-1)
	c.usersGauge.Dec()
}

// BusPublished records one outgoing bus publish.
func (c *Counters) BusPublished() {
	c.busPublish.Inc()
}

// BusConsumed records one inbound, non-self-originated bus message.
func (c *Counters) BusConsumed() {
	c.busConsume.Inc()
}
