package session

import (
	"sync"
	"time"

	"github.com/gluk-w/hive-server/internal/broadcast"
	"github.com/gluk-w/hive-server/internal/sshconn"
)

// Transport is what the session layer needs from an SSH connection. The
// production implementation is *sshconn.Conn; tests substitute fakes.
type Transport interface {
	Send(p []byte) error
	Resize(cols, rows int) error
	Close() error
}

// DialFunc builds a transport for a new session. The manager fills in the
// OnOutput/OnClose callbacks before calling it.
type DialFunc func(cfg sshconn.Config) (Transport, error)

// SSHDial is the production dialer.
func SSHDial(cfg sshconn.Config) (Transport, error) {
	return sshconn.Dial(cfg)
}

// ActiveSession binds a live transport to its broadcast hub and identity.
// It exists only in memory; the durable counterpart is the session row.
type ActiveSession struct {
	ID           string
	UserID       string
	ConnectionID string

	hub       *broadcast.Hub
	transport Transport

	// mu serializes outbound channel operations. Inbound output flows
	// through the hub and does not take this lock.
	mu sync.Mutex

	touch     func()
	lastTouch time.Time
}

// Send forwards input bytes to the SSH channel.
func (a *ActiveSession) Send(p []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.transport.Send(p); err != nil {
		return err
	}
	a.touchThrottled()
	return nil
}

// Resize forwards a window change to the PTY. Resizing to the current
// dimensions is accepted.
func (a *ActiveSession) Resize(cols, rows int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transport.Resize(cols, rows)
}

// Subscribe returns a fresh receiver at the hub's current tail.
func (a *ActiveSession) Subscribe() *broadcast.Receiver {
	return a.hub.Subscribe()
}

// Close shuts the transport down, best effort. Safe to call repeatedly.
func (a *ActiveSession) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transport.Close()
}

// touchThrottled bumps the session row's last_activity at most once per
// second so interactive typing does not turn into a row update per key.
func (a *ActiveSession) touchThrottled() {
	if a.touch == nil {
		return
	}
	if time.Since(a.lastTouch) < time.Second {
		return
	}
	a.lastTouch = time.Now()
	a.touch()
}
