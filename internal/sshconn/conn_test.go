package sshconn

import (
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestSSHErrorWrapping(t *testing.T) {
	inner := io.ErrUnexpectedEOF
	err := &SSHError{Op: "read", Err: inner}

	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatal("expected SSHError to unwrap to its cause")
	}

	var sshErr *SSHError
	if !errors.As(error(err), &sshErr) {
		t.Fatal("expected errors.As to match *SSHError")
	}
	if sshErr.Op != "read" {
		t.Fatalf("expected op read, got %q", sshErr.Op)
	}
	if err.Error() != "ssh read: unexpected EOF" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

// TestDialRealServer exercises a full dial against a live SSH server. It is
// skipped unless HIVE_TEST_SSH_ADDR (host:port), HIVE_TEST_SSH_USER and
// HIVE_TEST_SSH_PASSWORD are set.
func TestDialRealServer(t *testing.T) {
	addr := os.Getenv("HIVE_TEST_SSH_ADDR")
	user := os.Getenv("HIVE_TEST_SSH_USER")
	pass := os.Getenv("HIVE_TEST_SSH_PASSWORD")
	if addr == "" || user == "" {
		t.Skip("HIVE_TEST_SSH_ADDR not set")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("bad HIVE_TEST_SSH_ADDR %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("bad port %q: %v", portStr, err)
	}

	output := make(chan []byte, 64)
	closed := make(chan error, 1)
	conn, err := Dial(Config{
		Host:     host,
		Port:     port,
		User:     user,
		Password: pass,
		Cols:     80,
		Rows:     24,
		OnOutput: func(p []byte) {
			select {
			case output <- p:
			default:
			}
		},
		OnClose: func(err error) { closed <- err },
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := conn.Send([]byte("echo hive-test\n")); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.After(5 * time.Second)
	var got []byte
	for {
		select {
		case p := <-output:
			got = append(got, p...)
			if strings.Contains(string(got), "hive-test") {
				conn.Close()
				<-closed
				return
			}
		case <-deadline:
			t.Fatalf("never saw echoed output, got %q", got)
		}
	}
}
