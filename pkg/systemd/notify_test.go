package systemd

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "eventreminder/pkg/logx"
)

func listenNotify(t *testing.T) *net.UnixConn {
	t.Helper()
	// sun_path is short; keep the socket out of the long test temp dir.
	dir, err := os.MkdirTemp("", "sd")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram not available: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func readState(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read notify socket: %v", err)
	}
	return string(buf[:n])
}

func TestNotifyWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	sent, err := New(true, logx.Nop()).Ready()
	if err != nil || sent {
		t.Fatalf("Ready() = %v, %v; want false, nil", sent, err)
	}
}

func TestDisabledNotifierIsSilent(t *testing.T) {
	conn := listenNotify(t)

	n := New(false, logx.Nop())
	if sent, err := n.Ready(); err != nil || sent {
		t.Fatalf("Ready() = %v, %v", sent, err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := conn.Read(make([]byte, 16)); err == nil {
		t.Fatalf("disabled notifier wrote to the socket")
	}
}

func TestReadyAndStatus(t *testing.T) {
	conn := listenNotify(t)

	n := New(true, logx.Nop())
	if sent, err := n.Ready(); err != nil || !sent {
		t.Fatalf("Ready() = %v, %v", sent, err)
	}
	if got := readState(t, conn); got != "READY=1" {
		t.Fatalf("state = %q", got)
	}
	if _, err := n.Status("3 jobs"); err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got := readState(t, conn); got != "STATUS=3 jobs" {
		t.Fatalf("state = %q", got)
	}
}

func TestWatchdogDisabledReturns(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	if err := New(true, logx.Nop()).Watchdog(ctx); err != nil {
		t.Fatalf("Watchdog: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("Watchdog blocked without WATCHDOG_USEC")
	}
}
