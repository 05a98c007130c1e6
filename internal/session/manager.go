// Package session is the broker's core: it owns every live SSH session in
// the process, fans output out through per-session broadcast hubs, drives
// the persistence task that records scrollback, and implements
// attach-with-recovery for clients that reconnect after losing their
// stream.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/hive-server/internal/broadcast"
	"github.com/gluk-w/hive-server/internal/database"
	"github.com/gluk-w/hive-server/internal/logutil"
	"github.com/gluk-w/hive-server/internal/sshconn"
)

// Store is the persistence contract the manager consumes. It is satisfied
// by *database.Store.
type Store interface {
	FindConnection(id string) (*database.Connection, error)
	CreateSession(userID, connectionID string) (*database.Session, error)
	FindSession(id string) (*database.Session, error)
	ListActiveSessions() ([]database.Session, error)
	CloseSessionRow(id string) error
	TouchSession(id string) error

	AppendScrollback(sessionID string, data []byte) error
	ReadScrollback(sessionID string) ([]byte, error)
	ReadScrollbackFrom(sessionID string, offset int) ([]byte, error)
	ScrollbackSize(sessionID string) (int, error)
}

// Manager tracks all active sessions in the process. It is the sole entry
// point for session lifecycle: creation, lookup, attach, close.
type Manager struct {
	store Store
	dial  DialFunc

	mu       sync.RWMutex
	sessions map[string]*ActiveSession
}

// NewManager creates a Manager. A nil dial falls back to the SSH dialer.
func NewManager(store Store, dial DialFunc) *Manager {
	if dial == nil {
		dial = SSHDial
	}
	return &Manager{
		store:    store,
		dial:     dial,
		sessions: make(map[string]*ActiveSession),
	}
}

// CreateSession opens a new SSH session against one of the user's saved
// connections and registers it. It returns the active session and a fresh
// output receiver. On SSH failure the session row is left behind with
// status active; the reconciler marks such orphans closed.
func (m *Manager) CreateSession(userID, connectionID string, cols, rows int, password string) (*ActiveSession, *broadcast.Receiver, error) {
	conn, err := m.store.FindConnection(connectionID)
	if err != nil {
		return nil, nil, err
	}
	if conn == nil {
		return nil, nil, fmt.Errorf("connection %s: %w", connectionID, ErrNotFound)
	}
	if conn.UserID != userID {
		return nil, nil, fmt.Errorf("connection %s: %w", connectionID, ErrUnauthorized)
	}

	row, err := m.store.CreateSession(userID, connectionID)
	if err != nil {
		return nil, nil, err
	}

	log.Printf("[session-mgr] creating session %s for connection %s (%s:%d)",
		row.ID, logutil.SanitizeForLog(conn.Name), logutil.SanitizeForLog(conn.Host), conn.Port)

	hub := broadcast.New()
	sessionID := row.ID

	startup := ""
	if conn.StartupCommand != nil {
		startup = *conn.StartupCommand
	}

	// The transport's relay goroutines start before dial returns, so a
	// shell that exits immediately can fire OnClose before the session is
	// in the registry. Gate the callback on registration; transportClosed
	// then always finds the session and tears it down instead of leaving
	// a zombie behind.
	registered := make(chan struct{})

	transport, err := m.dial(sshconn.Config{
		Host:           conn.Host,
		Port:           conn.Port,
		User:           conn.Username,
		Password:       password,
		Cols:           cols,
		Rows:           rows,
		StartupCommand: startup,
		OnOutput:       hub.Publish,
		OnClose: func(cause error) {
			<-registered
			m.transportClosed(sessionID, cause)
		},
	})
	if err != nil {
		hub.Close()
		return nil, nil, err
	}

	as := &ActiveSession{
		ID:           sessionID,
		UserID:       userID,
		ConnectionID: connectionID,
		hub:          hub,
		transport:    transport,
		touch: func() {
			if err := m.store.TouchSession(sessionID); err != nil {
				log.Printf("[session-mgr] touch session %s: %v", sessionID, err)
			}
		},
	}

	go m.persist(sessionID, hub.Subscribe())

	rx := as.Subscribe()

	m.mu.Lock()
	m.sessions[sessionID] = as
	m.mu.Unlock()
	close(registered)

	log.Printf("[session-mgr] session %s established (user %s)", sessionID, userID)
	return as, rx, nil
}

// persist is the single writer to a session's scrollback log. It holds its
// own hub subscription and appends every message in publish order. Bytes
// dropped by the hub under lag are lost from scrollback; that is the price
// of never back-pressuring the SSH read path.
func (m *Manager) persist(sessionID string, rx *broadcast.Receiver) {
	ctx := context.Background()
	var lastTouch time.Time
	for {
		data, err := rx.Recv(ctx)
		if err != nil {
			var lagged *broadcast.LaggedError
			if errors.As(err, &lagged) {
				log.Printf("[session-mgr] scrollback for %s lagged, %d messages lost", sessionID, lagged.Missed)
				continue
			}
			// hub closed
			return
		}
		if err := m.store.AppendScrollback(sessionID, data); err != nil {
			// Session keeps running even if its log is degraded.
			log.Printf("[session-mgr] scrollback append for %s failed: %v", sessionID, err)
			continue
		}
		if time.Since(lastTouch) >= time.Second {
			lastTouch = time.Now()
			if err := m.store.TouchSession(sessionID); err != nil {
				log.Printf("[session-mgr] touch session %s: %v", sessionID, err)
			}
		}
	}
}

// transportClosed handles the transport dying underneath a session, from
// either an explicit close or an SSH-level failure.
func (m *Manager) transportClosed(sessionID string, cause error) {
	if cause != nil {
		log.Printf("[session-mgr] session %s transport failed: %v", sessionID, cause)
	}

	m.mu.Lock()
	as, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		as.hub.Close()
	}
	if err := m.store.CloseSessionRow(sessionID); err != nil {
		log.Printf("[session-mgr] close session row %s: %v", sessionID, err)
	}
	if ok {
		log.Printf("[session-mgr] session %s closed", sessionID)
	}
}

// GetSession returns the in-memory session, or nil. No ownership check;
// callers authorize against the session row or the UserID field.
func (m *Manager) GetSession(sessionID string) *ActiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// CloseSession removes a session from the registry, closes its transport
// (errors ignored) and marks the row closed. Idempotent.
func (m *Manager) CloseSession(sessionID string) error {
	m.mu.Lock()
	as, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		as.Close()
		as.hub.Close()
	}
	return m.store.CloseSessionRow(sessionID)
}

// authorize loads a session row and verifies the caller owns it.
func (m *Manager) authorize(sessionID, userID string) (*database.Session, error) {
	row, err := m.store.FindSession(sessionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if row.UserID != userID {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrUnauthorized)
	}
	return row, nil
}

// AttachToSession subscribes the caller to a session's live output. No
// replay; use AttachWithRecovery to catch up on missed bytes.
func (m *Manager) AttachToSession(sessionID, userID string) (*broadcast.Receiver, error) {
	row, err := m.authorize(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if row.Status != database.SessionActive {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotActive)
	}

	as := m.GetSession(sessionID)
	if as == nil {
		// Row says active but nothing in memory, e.g. after a restart.
		return nil, fmt.Errorf("session %s not in memory: %w", sessionID, ErrNotActive)
	}
	return as.Subscribe(), nil
}

// GetScrollback returns the full recorded output of an owned session.
func (m *Manager) GetScrollback(sessionID, userID string) ([]byte, error) {
	if _, err := m.authorize(sessionID, userID); err != nil {
		return nil, err
	}
	return m.store.ReadScrollback(sessionID)
}

// GetScrollbackFromOffset returns recorded output from a byte offset.
func (m *Manager) GetScrollbackFromOffset(sessionID, userID string, offset int) ([]byte, error) {
	if _, err := m.authorize(sessionID, userID); err != nil {
		return nil, err
	}
	return m.store.ReadScrollbackFrom(sessionID, offset)
}

// GetScrollbackSize returns the total recorded byte count.
func (m *Manager) GetScrollbackSize(sessionID, userID string) (int, error) {
	if _, err := m.authorize(sessionID, userID); err != nil {
		return 0, err
	}
	return m.store.ScrollbackSize(sessionID)
}

// AttachWithRecovery reads the scrollback from lastSeenOffset (the whole
// log when nil) and subscribes to the live stream, in that order. The
// caller delivers the replay first, then the live receiver. Bytes appended
// between the read and the subscription may show up in both; no byte
// appended before the call returns is missing from the union. Clients that
// cannot tolerate overlap dedup by offset.
func (m *Manager) AttachWithRecovery(sessionID, userID string, lastSeenOffset *int) ([]byte, *broadcast.Receiver, error) {
	row, err := m.authorize(sessionID, userID)
	if err != nil {
		return nil, nil, err
	}
	if row.Status != database.SessionActive {
		return nil, nil, fmt.Errorf("session %s: %w", sessionID, ErrNotActive)
	}

	var replay []byte
	if lastSeenOffset != nil {
		replay, err = m.store.ReadScrollbackFrom(sessionID, *lastSeenOffset)
	} else {
		replay, err = m.store.ReadScrollback(sessionID)
	}
	if err != nil {
		return nil, nil, err
	}

	as := m.GetSession(sessionID)
	if as == nil {
		return nil, nil, fmt.Errorf("session %s not in memory: %w", sessionID, ErrNotActive)
	}

	return replay, as.Subscribe(), nil
}

// ReconcileOrphans marks active session rows with no in-memory session as
// closed. Run at startup (everything is an orphan then) and periodically.
func (m *Manager) ReconcileOrphans() (int, error) {
	rows, err := m.store.ListActiveSessions()
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, row := range rows {
		if m.GetSession(row.ID) != nil {
			continue
		}
		if err := m.store.CloseSessionRow(row.ID); err != nil {
			log.Printf("[session-mgr] reconcile session %s: %v", row.ID, err)
			continue
		}
		closed++
	}
	if closed > 0 {
		log.Printf("[session-mgr] reconciled %d orphaned session(s)", closed)
	}
	return closed, nil
}

// CloseIdle closes live sessions whose last_activity is older than maxIdle.
// Run from the periodic sweep alongside ReconcileOrphans.
func (m *Manager) CloseIdle(maxIdle time.Duration) (int, error) {
	rows, err := m.store.ListActiveSessions()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxIdle)
	closed := 0
	for _, row := range rows {
		if m.GetSession(row.ID) == nil {
			continue
		}
		if row.LastActivity.After(cutoff) {
			continue
		}
		if err := m.CloseSession(row.ID); err != nil {
			log.Printf("[session-mgr] close idle session %s: %v", row.ID, err)
			continue
		}
		closed++
	}
	if closed > 0 {
		log.Printf("[session-mgr] closed %d idle session(s)", closed)
	}
	return closed, nil
}

// SessionCount returns the number of live sessions in the registry.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every live session. Used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.CloseSession(id); err != nil {
			log.Printf("[session-mgr] close session %s: %v", id, err)
		}
	}
}
