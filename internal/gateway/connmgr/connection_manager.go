// Package connmgr implements the Connection Manager (spec §4.2). It
// generalizes the teacher's internal/handlers/websocket.ConnectionManager
// (single map of sessions, snapshot-then-send broadcast) into a
// topic/kind-based registry, and it DROPS the teacher's
// pkg/io/publisher.Publisher.SendEvent behavior of fanning an event out
// to every endpoint a user owns regardless of session — spec §9's
// redesign note explicitly rejects unscoped broadcast. Every send here
// takes a session id and only reaches connections registered under it.
package connmgr

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

// Kind distinguishes the three connection roles spec §4.2 names.
type Kind string

const (
	KindDashboard    Kind = "dashboard"
	KindConversation Kind = "conversation"
	KindMedia        Kind = "media"
)

// Connection is one registered websocket, scoped to exactly one
// session and carrying a topic set a session-scoped broadcast is
// filtered against (e.g. "transcript", "audio", "events").
type Connection struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Kind      Kind
	Topics    map[string]struct{}
	Conn      *websocket.Conn

	mu         sync.Mutex
	lastActive time.Time
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Connection) idleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActive)
}

func (c *Connection) hasTopic(topic string) bool {
	if topic == "" {
		return true
	}
	_, ok := c.Topics[topic]
	return ok
}

// Manager owns all live connections, indexed by session for
// broadcast and by connection id for direct addressing.
type Manager struct {
	logger *Logger.Logger

	mu          sync.RWMutex
	bySession   map[uuid.UUID]map[uuid.UUID]*Connection
	byID        map[uuid.UUID]*Connection
	idleTimeout time.Duration

	cron *cron.Cron
}

func New(logger *Logger.Logger, idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &Manager{
		logger:      logger,
		bySession:   make(map[uuid.UUID]map[uuid.UUID]*Connection),
		byID:        make(map[uuid.UUID]*Connection),
		idleTimeout: idleTimeout,
	}
}

// StartReaper schedules the stale-connection sweep on a cron schedule
// (default: every 5 minutes), distinct from the engine pool's
// ticker-driven health checks and grounded on the teacher's
// scheduler.AsynqSchedulerService pattern of wiring a real scheduling
// library rather than a bare time.Ticker.
func (m *Manager) StartReaper(schedule string) error {
	if schedule == "" {
		schedule = "*/5 * * * *"
	}
	m.cron = cron.New()
	_, err := m.cron.AddFunc(schedule, m.reapIdle)
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

func (m *Manager) reapIdle() {
	m.mu.RLock()
	var stale []*Connection
	for _, conn := range m.byID {
		if conn.idleSince() > m.idleTimeout {
			stale = append(stale, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range stale {
		m.logger.Infow("reaping idle connection", "connection_id", conn.ID, "session_id", conn.SessionID)
		m.Unregister(conn.ID)
		_ = conn.Conn.Close()
	}
}

// Register adds a connection under its session.
func (m *Manager) Register(conn *Connection) {
	conn.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bySession[conn.SessionID] == nil {
		m.bySession[conn.SessionID] = make(map[uuid.UUID]*Connection)
	}
	m.bySession[conn.SessionID][conn.ID] = conn
	m.byID[conn.ID] = conn
}

// Unregister removes a connection.
func (m *Manager) Unregister(connID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.byID[connID]
	if !ok {
		return
	}
	delete(m.byID, connID)
	if set, ok := m.bySession[conn.SessionID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(m.bySession, conn.SessionID)
		}
	}
}

// SessionConnections returns a snapshot of connections for sessionID.
func (m *Manager) SessionConnections(sessionID uuid.UUID) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.bySession[sessionID]
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Broadcast sends payload as JSON to every connection registered under
// sessionID whose Kind matches kind and, if topic is non-empty, whose
// Topics include it. This is the ONLY broadcast primitive the gateway
// exposes — there is no all-sessions variant.
func (m *Manager) Broadcast(sessionID uuid.UUID, kind Kind, topic string, payload any) {
	conns := m.SessionConnections(sessionID)
	for _, c := range conns {
		if c.Kind != kind || !c.hasTopic(topic) {
			continue
		}
		c.touch()
		if err := c.Conn.WriteJSON(payload); err != nil {
			m.logger.Warnw("broadcast write failed", "connection_id", c.ID, "err", err)
		}
	}
}

// SendToConnection is the best-effort single-connection send spec
// §4.2 names: unlike Broadcast it addresses one connection directly
// by id, for replies that don't belong to every listener on a
// session (e.g. an ack back to the one socket that sent a frame). A
// missing connection or a write failure is logged and swallowed, not
// returned, matching Broadcast's fire-and-forget contract.
func (m *Manager) SendToConnection(connID uuid.UUID, payload any) {
	m.mu.RLock()
	conn, ok := m.byID[connID]
	m.mu.RUnlock()
	if !ok {
		m.logger.Warnw("send_to_connection: unknown connection", "connection_id", connID)
		return
	}
	conn.touch()
	if err := conn.Conn.WriteJSON(payload); err != nil {
		m.logger.Warnw("send_to_connection write failed", "connection_id", connID, "err", err)
	}
}

// Stats reports live connection counts for diagnostics (spec §4.2's
// stats() → {connections, by_topic, by_kind}).
type Stats struct {
	Connections int
	ByKind      map[Kind]int
	ByTopic     map[string]int
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{
		Connections: len(m.byID),
		ByKind:      make(map[Kind]int),
		ByTopic:     make(map[string]int),
	}
	for _, c := range m.byID {
		stats.ByKind[c.Kind]++
		for topic := range c.Topics {
			stats.ByTopic[topic]++
		}
	}
	return stats
}

// Count reports total live connections, for diagnostics.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Close stops the reaper and closes every connection.
func (m *Manager) Close() {
	if m.cron != nil {
		m.cron.Stop()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byID {
		_ = c.Conn.Close()
	}
	m.bySession = make(map[uuid.UUID]map[uuid.UUID]*Connection)
	m.byID = make(map[uuid.UUID]*Connection)
}
