package broker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
)

// Listen opens a unix-domain socket listener at this session's rendezvous
// path for agentID, removing any stale socket file left behind by a
// previous process first.
func (b *Broker) Listen(agentID string) (net.Listener, error) {
	path := b.SockPath(agentID)
	_ = removeStaleSocket(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("broker: listen on %s: %w", path, err)
	}
	return l, nil
}

// Dial connects to agentID's socket as the coordinator side.
func (b *Broker) Dial(agentID string) (net.Conn, error) {
	conn, err := net.Dial("unix", b.SockPath(agentID))
	if err != nil {
		return nil, fmt.Errorf("broker: dial %s: %w", agentID, err)
	}
	return conn, nil
}

// Send writes msg to conn as one newline-delimited JSON frame.
func Send(conn net.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broker: encode message: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("broker: write message: %w", err)
	}
	return nil
}

// Receive reads and decodes the next newline-delimited JSON frame from r.
// Use this with a *bufio.Reader wrapping conn so repeated calls don't
// re-buffer already-consumed bytes.
func Receive(r *bufio.Reader) (*Message, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("broker: decode message: %w", err)
	}
	return &msg, nil
}

// DisconnectAll sends a MessageDisconnect frame to every currently
// registered sub-agent, best-effort: a dial or write failure for one
// agent doesn't stop the others from being notified.
func (b *Broker) DisconnectAll() {
	for _, rec := range b.Registered() {
		conn, err := b.Dial(rec.AgentID)
		if err != nil {
			b.logger.Warn("disconnect dial failed", "agent_id", rec.AgentID, "error", err)
			continue
		}
		if err := Send(conn, Message{Type: MessageDisconnect, AgentID: rec.AgentID}); err != nil {
			b.logger.Warn("disconnect send failed", "agent_id", rec.AgentID, "error", err)
		}
		_ = conn.Close()
	}
}
