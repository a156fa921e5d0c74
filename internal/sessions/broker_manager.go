package sessions

import (
	"sync"

	"github.com/wayfarer-ai/wayfarer/internal/broker"
)

// BrokerManager lazily creates and caches one Coordination Broker per
// session, the same sync.Map-keyed-by-session-id shape ResourceManager uses
// for the Tool Result Store and Long-Term Context archive. A Broker is only
// created on first use by a session that actually delegates to a sub-agent,
// not eagerly for every session.
type BrokerManager struct {
	root    string
	secret  []byte
	brokers sync.Map // map[string]*broker.Broker
}

// NewBrokerManager returns a BrokerManager rooted at root, signing every
// session's sub-agent connection tokens with secret.
func NewBrokerManager(root string, secret []byte) *BrokerManager {
	return &BrokerManager{root: root, secret: secret}
}

// Broker returns the Broker for sessionID, creating its rendezvous
// directory on first use.
func (m *BrokerManager) Broker(sessionID string) (*broker.Broker, error) {
	if existing, ok := m.brokers.Load(sessionID); ok {
		return existing.(*broker.Broker), nil
	}
	b, err := broker.New(m.root, sessionID, m.secret)
	if err != nil {
		return nil, err
	}
	actual, _ := m.brokers.LoadOrStore(sessionID, b)
	return actual.(*broker.Broker), nil
}
