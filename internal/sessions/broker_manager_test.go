package sessions

import "testing"

func TestBrokerManagerCached(t *testing.T) {
	m := NewBrokerManager(t.TempDir(), []byte("test-secret"))

	a, err := m.Broker("session-1")
	if err != nil {
		t.Fatalf("Broker: %v", err)
	}
	b, err := m.Broker("session-1")
	if err != nil {
		t.Fatalf("Broker: %v", err)
	}
	if a != b {
		t.Error("expected the same *broker.Broker instance on repeated calls for the same session")
	}
}

func TestBrokerManagerDistinctPerSession(t *testing.T) {
	m := NewBrokerManager(t.TempDir(), []byte("test-secret"))

	a, err := m.Broker("session-1")
	if err != nil {
		t.Fatalf("Broker: %v", err)
	}
	b, err := m.Broker("session-2")
	if err != nil {
		t.Fatalf("Broker: %v", err)
	}
	if a == b {
		t.Error("expected distinct *broker.Broker instances for distinct sessions")
	}
}
