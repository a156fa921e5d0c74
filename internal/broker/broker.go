// Package broker implements the Coordination Broker: a strictly
// local-filesystem IPC mechanism a coordinator process uses to spawn and
// talk to sub-agent processes. Registration and transport both live under
// a per-session rendezvous directory; there is no network listener and no
// remote dependency anywhere in the package.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"
)

// MessageType enumerates the framed JSON messages exchanged over a
// sub-agent's socket.
type MessageType string

const (
	MessageTask       MessageType = "task"
	MessageStatus     MessageType = "status"
	MessageCompleted  MessageType = "completed"
	MessageBlocked    MessageType = "blocked"
	MessageDisconnect MessageType = "disconnect"
)

// Message is one newline-delimited JSON frame exchanged between the
// coordinator and a sub-agent.
type Message struct {
	Type    MessageType     `json:"type"`
	AgentID string          `json:"agent_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BlockedPayload is the Payload shape for a MessageBlocked frame.
type BlockedPayload struct {
	Reason string `json:"reason"`
}

// ConnRecord is the JSON body of a sub-agent's rendezvous file
// (<rendezvous>/<agent-id>.conn), written by the sub-agent on registration
// and read by the coordinator's watcher.
type ConnRecord struct {
	AgentID string `json:"agent_id"`
	PID     int    `json:"pid"`
	Token   string `json:"token"`
}

// tokenClaims binds an agent-id to the coordinator pid that issued it, so a
// stray process holding a copy of the rendezvous directory can't forge a
// connection record for an agent-id it was never assigned.
type tokenClaims struct {
	AgentID        string `json:"agent_id"`
	CoordinatorPID int    `json:"coordinator_pid"`
	jwt.RegisteredClaims
}

// ErrInvalidToken is returned by VerifyToken when a connection record's
// token doesn't verify or doesn't match the expected agent-id.
var ErrInvalidToken = errors.New("broker: invalid connection token")

// Broker manages one session's rendezvous directory: sub-agent
// registration, agent-id issuance, and connection bookkeeping. One Broker
// always serves exactly one session.
type Broker struct {
	sessionID string
	root      string // <broker-root>/<session-id>
	secret    []byte
	logger    *slog.Logger

	counterPath string
	counterMu   sync.Mutex

	watcher   *fsnotify.Watcher
	watchOnce sync.Once
	connCh    chan ConnRecord
	stopCh    chan struct{}

	mu    sync.RWMutex
	conns map[string]ConnRecord
}

// New returns a Broker rooted at brokerRoot/sessionID, creating the
// rendezvous directory if needed. secret signs sub-agent connection
// tokens; it should be stable for the lifetime of the session so a
// restarted broker can still verify tokens issued before the restart.
func New(brokerRoot, sessionID string, secret []byte) (*Broker, error) {
	if sessionID == "" {
		return nil, errors.New("broker: session id is required")
	}
	root := filepath.Join(brokerRoot, sessionID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("broker: create rendezvous dir: %w", err)
	}
	return &Broker{
		sessionID:   sessionID,
		root:        root,
		secret:      secret,
		logger:      slog.Default().With("component", "broker", "session_id", sessionID),
		counterPath: filepath.Join(root, "agent_counter"),
		connCh:      make(chan ConnRecord, 16),
		stopCh:      make(chan struct{}),
		conns:       make(map[string]ConnRecord),
	}, nil
}

// Root returns the session's rendezvous directory.
func (b *Broker) Root() string {
	return b.root
}

// NextAgentID returns the next agent-id in this session's monotonic
// sequence, persisting the counter so a broker restart never reissues a
// live id.
func (b *Broker) NextAgentID() (string, error) {
	b.counterMu.Lock()
	defer b.counterMu.Unlock()

	next := uint64(1)
	if data, err := os.ReadFile(b.counterPath); err == nil {
		if parsed, perr := strconv.ParseUint(string(data), 10, 64); perr == nil {
			next = parsed + 1
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("broker: read agent counter: %w", err)
	}

	tmp := b.counterPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(next, 10)), 0o644); err != nil {
		return "", fmt.Errorf("broker: write agent counter: %w", err)
	}
	if err := os.Rename(tmp, b.counterPath); err != nil {
		return "", fmt.Errorf("broker: commit agent counter: %w", err)
	}
	return fmt.Sprintf("agent-%d", next), nil
}

// IssueToken signs a connection token binding agentID to this process's
// pid, for a sub-agent to embed in its connection record.
func (b *Broker) IssueToken(agentID string) (string, error) {
	claims := tokenClaims{
		AgentID:        agentID,
		CoordinatorPID: os.Getpid(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(b.secret)
}

// VerifyToken checks that token was issued by this broker for agentID.
func (b *Broker) VerifyToken(agentID, token string) error {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return b.secret, nil
	})
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || claims.AgentID != agentID {
		return ErrInvalidToken
	}
	return nil
}

// connPath returns the rendezvous connection-record path for agentID.
func (b *Broker) connPath(agentID string) string {
	return filepath.Join(b.root, agentID+".conn")
}

// SockPath returns the rendezvous unix-socket path for agentID.
func (b *Broker) SockPath(agentID string) string {
	return filepath.Join(b.root, agentID+".sock")
}

// RegisterConnection writes agentID's connection record to the rendezvous
// directory, called by the sub-agent process itself after it starts
// listening on its socket. pid is the sub-agent's own process id.
func (b *Broker) RegisterConnection(agentID string, pid int) (ConnRecord, error) {
	token, err := b.IssueToken(agentID)
	if err != nil {
		return ConnRecord{}, err
	}
	rec := ConnRecord{AgentID: agentID, PID: pid, Token: token}
	data, err := json.Marshal(rec)
	if err != nil {
		return ConnRecord{}, fmt.Errorf("broker: encode connection record: %w", err)
	}

	tmp := b.connPath(agentID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ConnRecord{}, fmt.Errorf("broker: write connection record: %w", err)
	}
	if err := os.Rename(tmp, b.connPath(agentID)); err != nil {
		return ConnRecord{}, fmt.Errorf("broker: commit connection record: %w", err)
	}

	b.mu.Lock()
	b.conns[agentID] = rec
	b.mu.Unlock()
	return rec, nil
}

// ReadConnection reads and verifies agentID's connection record from disk.
func (b *Broker) ReadConnection(agentID string) (ConnRecord, error) {
	data, err := os.ReadFile(b.connPath(agentID))
	if err != nil {
		return ConnRecord{}, fmt.Errorf("broker: read connection record: %w", err)
	}
	var rec ConnRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ConnRecord{}, fmt.Errorf("broker: decode connection record: %w", err)
	}
	if err := b.VerifyToken(rec.AgentID, rec.Token); err != nil {
		return ConnRecord{}, err
	}
	return rec, nil
}

// Connections returns a channel of connection records for sub-agents that
// register after Watch is called. The channel is never closed; stop
// reading from it once Close has been called.
func (b *Broker) Connections() <-chan ConnRecord {
	return b.connCh
}

// Watch starts an fsnotify watch on the rendezvous directory, pushing a
// ConnRecord to Connections() for every valid *.conn file that appears.
// Watch is idempotent; calling it more than once is a no-op.
func (b *Broker) Watch(ctx context.Context) error {
	var watchErr error
	b.watchOnce.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			watchErr = fmt.Errorf("broker: create watcher: %w", err)
			return
		}
		if err := watcher.Add(b.root); err != nil {
			_ = watcher.Close()
			watchErr = fmt.Errorf("broker: watch rendezvous dir: %w", err)
			return
		}
		b.watcher = watcher
		go b.watchLoop(ctx)
	})
	return watchErr
}

func (b *Broker) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".conn" {
				continue
			}
			agentID := strings.TrimSuffix(filepath.Base(event.Name), ".conn")
			rec, err := b.ReadConnection(agentID)
			if err != nil {
				b.logger.Warn("invalid connection record", "agent_id", agentID, "error", err)
				continue
			}
			b.mu.Lock()
			b.conns[agentID] = rec
			b.mu.Unlock()
			select {
			case b.connCh <- rec:
			default:
				b.logger.Warn("connection channel full, dropping record", "agent_id", agentID)
			}
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("rendezvous watch error", "error", err)
		}
	}
}

// Registered returns a snapshot of every agent-id currently registered.
func (b *Broker) Registered() []ConnRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ConnRecord, 0, len(b.conns))
	for _, rec := range b.conns {
		out = append(out, rec)
	}
	return out
}

// Close stops the watcher and releases resources. It does not disconnect
// or terminate any sub-agent; call Disconnect first if that's wanted.
func (b *Broker) Close() error {
	close(b.stopCh)
	if b.watcher != nil {
		return b.watcher.Close()
	}
	return nil
}
