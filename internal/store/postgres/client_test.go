package postgres

import (
	"context"
	"net"
	"strings"
	"testing"
)

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "shadow"})
	want := "postgres://u:p@db:5432/shadow?sslmode=disable"
	if got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
	if got := DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}); got != "postgres://x" {
		t.Errorf("explicit DSN = %q", got)
	}
}

func TestDialPreferIPv4RefusedPort(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback: %v", err)
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()

	addr := net.JoinHostPort("localhost", port)
	conn, err := dialPreferIPv4(context.Background(), "tcp", addr)
	if err == nil {
		conn.Close()
		t.Fatal("dial to a closed port succeeded")
	}
	if !strings.HasPrefix(err.Error(), `postgres: dial "`+addr+`"`) {
		t.Errorf("err = %v", err)
	}
}

func TestDialPreferIPv4BadAddr(t *testing.T) {
	if _, err := dialPreferIPv4(context.Background(), "tcp", "no-port"); err == nil || !strings.Contains(err.Error(), "split host/port") {
		t.Errorf("err = %v", err)
	}
}
