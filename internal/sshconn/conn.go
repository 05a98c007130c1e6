// Package sshconn wraps golang.org/x/crypto/ssh into the broker's transport
// adapter: one outbound SSH connection with a PTY-backed shell per session.
// Output (stdout and stderr merged) is pushed through a callback; input,
// resize and close are forwarded to the channel.
package sshconn

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/hive-server/internal/logutil"
)

const (
	dialTimeout = 10 * time.Second

	// keepaliveInterval and keepaliveMaxMissed mirror the server-side
	// session options: a connection that misses three keepalives in a
	// row is torn down.
	keepaliveInterval  = 30 * time.Second
	keepaliveMaxMissed = 3

	// inactivityTimeout closes sessions with no I/O in either direction.
	inactivityTimeout = 3600 * time.Second

	readBufferSize = 32 * 1024
)

// ErrAuthFailed means the SSH server rejected the supplied password. It is
// distinct from transport-level failures, which are reported as *SSHError.
var ErrAuthFailed = errors.New("ssh authentication failed")

// SSHError wraps an I/O or protocol failure from the SSH layer, tagged with
// the operation that failed.
type SSHError struct {
	Op  string
	Err error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s: %v", e.Op, e.Err)
}

func (e *SSHError) Unwrap() error {
	return e.Err
}

// Config describes one transport: where to connect, how to authenticate,
// the initial PTY geometry, and the session callbacks.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Cols     int
	Rows     int

	// StartupCommand, when non-empty, is written to the shell's stdin
	// once the shell has started.
	StartupCommand string

	// OnOutput receives merged stdout+stderr bytes. It must not block;
	// the broker points it at a broadcast hub publish.
	OnOutput func(data []byte)

	// OnClose is invoked exactly once when the transport dies, whether
	// from an explicit Close or a transport failure (err non-nil).
	OnClose func(err error)
}

// Conn is a live SSH connection with an interactive shell on a PTY.
type Conn struct {
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser

	lastActivity atomic.Int64 // unix nanos

	closeOnce sync.Once
	done      chan struct{}

	onClose func(err error)
}

// Dial connects, authenticates with the password, opens a session channel,
// requests a PTY (xterm-256color, cols x rows) and starts a shell. The
// server's host key is accepted unconditionally and its fingerprint logged;
// host key verification is explicit future work.
func Dial(cfg Config) (*Conn, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	clientCfg := &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			log.Printf("[ssh] accepting server key for %s: %s",
				logutil.SanitizeForLog(hostname), ssh.FingerprintSHA256(key))
			return nil
		},
		Timeout: dialTimeout,
	}

	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("connect to %s: %w", logutil.SanitizeForLog(addr), ErrAuthFailed)
		}
		return nil, &SSHError{Op: "connect", Err: err}
	}

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, &SSHError{Op: "open channel", Err: err}
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", cfg.Rows, cfg.Cols, modes); err != nil {
		sess.Close()
		client.Close()
		return nil, &SSHError{Op: "request pty", Err: err}
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, &SSHError{Op: "stdin pipe", Err: err}
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, &SSHError{Op: "stdout pipe", Err: err}
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, &SSHError{Op: "stderr pipe", Err: err}
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		client.Close()
		return nil, &SSHError{Op: "request shell", Err: err}
	}

	c := &Conn{
		client:  client,
		sess:    sess,
		stdin:   stdin,
		done:    make(chan struct{}),
		onClose: cfg.OnClose,
	}
	c.touch()

	// stdout and stderr are merged: downstream never distinguishes them.
	go c.relay(stdout, cfg.OnOutput, true)
	go c.relay(stderr, cfg.OnOutput, false)
	go c.keepaliveLoop()

	if cfg.StartupCommand != "" {
		if _, err := stdin.Write([]byte(cfg.StartupCommand + "\n")); err != nil {
			log.Printf("[ssh] startup command write failed for %s: %v", logutil.SanitizeForLog(addr), err)
		}
	}

	log.Printf("[ssh] shell started on %s as %s", logutil.SanitizeForLog(addr), logutil.SanitizeForLog(cfg.User))
	return c, nil
}

// relay pumps one output stream into the session callback. Only the stdout
// relay is fatal: its end means the shell is gone. Stderr closing on its
// own does not kill the session.
func (c *Conn) relay(r io.Reader, onOutput func([]byte), fatal bool) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.touch()
			if onOutput != nil {
				data := make([]byte, n)
				copy(data, buf[:n])
				onOutput(data)
			}
		}
		if err != nil {
			if fatal {
				if errors.Is(err, io.EOF) {
					c.shutdown(nil)
				} else {
					c.shutdown(&SSHError{Op: "read", Err: err})
				}
			}
			return
		}
	}
}

// Send writes input bytes to the shell. A failure after session
// establishment is fatal for the session; callers should close it.
func (c *Conn) Send(p []byte) error {
	if _, err := c.stdin.Write(p); err != nil {
		return &SSHError{Op: "send", Err: err}
	}
	c.touch()
	return nil
}

// Resize issues a window-change request for the PTY.
func (c *Conn) Resize(cols, rows int) error {
	if err := c.sess.WindowChange(rows, cols); err != nil {
		return &SSHError{Op: "resize", Err: err}
	}
	c.touch()
	return nil
}

// Close tears the transport down. Safe to call more than once.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

// Done is closed when the transport has been torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Conn) idle() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sess.Close()
		c.client.Close()
		if c.onClose != nil {
			c.onClose(err)
		}
	})
}

// keepaliveLoop sends periodic keepalive requests and enforces the
// inactivity timeout. Three consecutive keepalive failures tear the
// transport down.
func (c *Conn) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.idle() > inactivityTimeout {
				log.Printf("[ssh] closing connection after %s of inactivity", inactivityTimeout)
				c.shutdown(&SSHError{Op: "keepalive", Err: errors.New("inactivity timeout")})
				return
			}
			_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				missed++
				if missed >= keepaliveMaxMissed {
					log.Printf("[ssh] %d keepalives missed, closing connection", missed)
					c.shutdown(&SSHError{Op: "keepalive", Err: err})
					return
				}
			} else {
				missed = 0
			}
		}
	}
}
