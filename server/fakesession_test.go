package server

import (
	"sync"

	"github.com/zeldanerd24/ircdd/server/store/types"
)

// fakeSession is a ProtocolSession test double recording every
// notification it receives.
type fakeSession struct {
	name     string
	hostname string

	mu       sync.Mutex
	received []recordedMessage
	joins    []string
	parts    []string
	metas    []types.GroupMeta
	failNext bool
}

type recordedMessage struct {
	sender string
	text   string
}

func newFakeSession(name string) *fakeSession {
	return &fakeSession{name: name, hostname: "node-a"}
}

func (s *fakeSession) Name() string     { return s.name }
func (s *fakeSession) Hostname() string { return s.hostname }

func (s *fakeSession) Receive(senderName string, self interface{}, message *MessageBody) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errBoom
	}
	s.received = append(s.received, recordedMessage{sender: senderName, text: message.Text})
	return nil
}

func (s *fakeSession) UserJoined(group, nick, hostname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins = append(s.joins, nick)
}

func (s *fakeSession) UserLeft(group, nick, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = append(s.parts, nick)
}

func (s *fakeSession) GroupMetaUpdate(group string, meta types.GroupMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas = append(s.metas, meta)
}

func (s *fakeSession) messages() []recordedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedMessage(nil), s.received...)
}

var errBoom = simpleErr("boom")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
