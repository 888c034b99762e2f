// Package bus is the pub/sub fabric over a topic-per-entity message queue.
// Each SharedUser subscribes to a topic equal to its nickname; each
// SharedGroup subscribes to a topic equal to its channel name. Built on
// NSQ, whose HTTP admin API (/create_topic, /create_channel, ...) spec
// section 6 names literally.
package bus

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"github.com/zeldanerd24/ircdd/server/ircerr"
	"github.com/zeldanerd24/ircdd/server/metrics"
)

const lookupHTTPTimeout = 5 * time.Second

// Envelope is the wire format every bus message is wrapped in, per spec
// section 6. ID is not part of the spec's wire format; it exists purely
// so that log lines about a single publish can be correlated across
// nodes without parsing msg_body.
type Envelope struct {
	ID      string          `json:"id"`
	Origin  string          `json:"origin"`
	MsgBody json.RawMessage `json:"msg_body"`
}

// Handler processes one inbound message body, already known not to
// originate from this node. Returning false leaves the message unacked so
// the queue redelivers it; true acks it.
type Handler func(body json.RawMessage) bool

// Bus is one node's connection to the message queue.
type Bus struct {
	nodeName   string
	writer     *nsq.Producer
	lookupdURL []string
	metrics    *metrics.Counters

	mu      sync.Mutex
	readers map[string]*nsq.Consumer
}

// Config bundles the addresses the Bus needs to reach the queue.
type Config struct {
	NodeName         string
	NSQDAddress      string
	LookupdHTTPAddrs []string
	PollInterval     time.Duration

	// Metrics is optional; when set, every publish and every
	// non-self-originated delivery bumps its bus counters.
	Metrics *metrics.Counters
}

// New connects the long-lived writer used by every publish call.
func New(cfg Config) (*Bus, error) {
	nsqCfg := nsq.NewConfig()
	if cfg.PollInterval > 0 {
		nsqCfg.LookupdPollInterval = cfg.PollInterval
	} else {
		nsqCfg.LookupdPollInterval = 15 * time.Second
	}

	writer, err := nsq.NewProducer(cfg.NSQDAddress, nsqCfg)
	if err != nil {
		return nil, ircerr.Wrap(ircerr.KindBusUnavailable, "failed to connect writer", err)
	}

	lookupdAddrs := make([]string, len(cfg.LookupdHTTPAddrs))
	copy(lookupdAddrs, cfg.LookupdHTTPAddrs)

	return &Bus{
		nodeName:   cfg.NodeName,
		writer:     writer,
		lookupdURL: lookupdAddrs,
		metrics:    cfg.Metrics,
		readers:    make(map[string]*nsq.Consumer),
	}, nil
}

// Close stops the writer and every active reader.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, r := range b.readers {
		r.Stop()
		delete(b.readers, topic)
	}
	b.writer.Stop()
}

// Publish wraps body in the origin envelope and sends it fire-and-forget;
// errors are logged, never returned to the caller, per spec section 4.2.
func (b *Bus) Publish(topic string, body interface{}) {
	raw, err := json.Marshal(body)
	if err != nil {
		log.Printf("bus: failed to encode message for topic %q: %v", topic, err)
		return
	}
	env := Envelope{ID: uuid.NewString(), Origin: b.nodeName, MsgBody: raw}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("bus: failed to encode envelope for topic %q: %v", topic, err)
		return
	}
	if err := b.writer.Publish(topic, data); err != nil {
		log.Printf("bus: publish %s to topic %q failed: %v", env.ID, topic, err)
		return
	}
	if b.metrics != nil {
		b.metrics.BusPublished()
	}
}

// Subscribe ensures topic and this node's consumer channel exist, then
// starts a reader that discards self-originated messages before handing
// everything else to handler.
func (b *Bus) Subscribe(topic string, handler Handler) error {
	if err := b.ensureTopic(topic); err != nil {
		return err
	}
	if err := b.ensureChannel(topic, b.nodeName); err != nil {
		return err
	}

	cfg := nsq.NewConfig()
	cfg.LookupdPollInterval = 15 * time.Second
	consumer, err := nsq.NewConsumer(topic, b.nodeName, cfg)
	if err != nil {
		return ircerr.Wrap(ircerr.KindBusUnavailable, "failed to create consumer", err)
	}

	consumer.AddHandler(nsq.HandlerFunc(func(msg *nsq.Message) error {
		var env Envelope
		if err := json.Unmarshal(msg.Body, &env); err != nil {
			log.Printf("bus: malformed message on topic %q: %v", topic, err)
			msg.Finish()
			return nil
		}
		if isSelfOrigin(env.Origin, b.nodeName) {
			// Self-echo filter, invariant I3: never observed by a handler.
			msg.Finish()
			return nil
		}
		if b.metrics != nil {
			b.metrics.BusConsumed()
		}
		if handler(env.MsgBody) {
			msg.Finish()
		} else {
			msg.Requeue(-1)
		}
		return nil
	}))

	if err := consumer.ConnectToNSQLookupds(b.lookupdURL); err != nil {
		return ircerr.Wrap(ircerr.KindBusUnavailable, "failed to connect reader", err)
	}

	b.mu.Lock()
	b.readers[topic] = consumer
	b.mu.Unlock()
	return nil
}

// Unsubscribe closes and forgets the reader for topic.
func (b *Bus) Unsubscribe(topic string) {
	b.mu.Lock()
	consumer, ok := b.readers[topic]
	if ok {
		delete(b.readers, topic)
	}
	b.mu.Unlock()
	if ok {
		consumer.Stop()
	}
}

// isSelfOrigin reports whether a message originated from this node and
// must therefore be dropped before reaching any handler (invariant I3).
func isSelfOrigin(origin, nodeName string) bool {
	return origin == nodeName
}

func (b *Bus) ensureTopic(topic string) error {
	return b.lookupdGet("/create_topic", url.Values{"topic": {topic}})
}

func (b *Bus) ensureChannel(topic, channel string) error {
	return b.lookupdGet("/create_channel", url.Values{"topic": {topic}, "channel": {channel}})
}

// lookupdGet issues a control-plane GET against the first reachable
// lookupd. "already exists" is not an error; anything else is logged, not
// fatal, per spec section 6.
func (b *Bus) lookupdGet(path string, params url.Values) error {
	if len(b.lookupdURL) == 0 {
		return nil
	}
	client := &http.Client{Timeout: lookupHTTPTimeout}
	var lastErr error
	for _, addr := range b.lookupdURL {
		u := "http://" + addr + path + "?" + params.Encode()
		resp, err := client.Get(u)
		if err != nil {
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = ircerr.New(ircerr.KindBusUnavailable, path+" returned "+resp.Status)
	}
	if lastErr != nil {
		log.Printf("bus: control-plane call %s failed: %v", path, lastErr)
	}
	return nil
}
