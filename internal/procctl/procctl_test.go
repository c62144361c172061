//go:build unix

package procctl

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func markerExists(dir string) bool {
	_, err := os.Stat(MarkerPath(dir))
	return err == nil
}

func TestKill_SignalsAndRemovesMarker(t *testing.T) {
	dir := t.TempDir()
	if err := WriteMarker(dir, 4242); err != nil {
		t.Fatal(err)
	}
	var got int
	k := NewKillerWithSignal(func(pgid int) error { got = pgid; return nil }, testLogger())

	if !k.Kill("1", dir) {
		t.Error("Kill reported no delivery")
	}
	if got != 4242 {
		t.Errorf("signalled pgid %d, want 4242", got)
	}
	if markerExists(dir) {
		t.Error("marker not removed")
	}
}

func TestKill_DeadProcessRemovesMarker(t *testing.T) {
	dir := t.TempDir()
	if err := WriteMarker(dir, 4242); err != nil {
		t.Fatal(err)
	}
	k := NewKillerWithSignal(func(int) error { return unix.ESRCH }, testLogger())

	if k.Kill("1", dir) {
		t.Error("Kill reported delivery to a dead process")
	}
	if markerExists(dir) {
		t.Error("marker not removed after failed signal")
	}
}

func TestKill_MissingMarker(t *testing.T) {
	called := false
	k := NewKillerWithSignal(func(int) error { called = true; return nil }, testLogger())
	if k.Kill("1", t.TempDir()) {
		t.Error("Kill reported delivery without a marker")
	}
	if called {
		t.Error("signal sent without a marker")
	}
}

func TestReadMarker_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "abc"},
		{"init", "1"},
		{"negative", "-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(MarkerPath(dir), []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := ReadMarker(dir); err == nil {
				t.Error("expected error")
			}
			k := NewKillerWithSignal(func(int) error { return errors.New("must not be called") }, testLogger())
			k.Kill("1", dir)
			if markerExists(dir) {
				t.Error("invalid marker not removed")
			}
		})
	}
}

func TestKill_RealProcessGroup(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	dir := t.TempDir()
	if err := WriteMarker(dir, cmd.Process.Pid); err != nil {
		t.Fatal(err)
	}

	if !NewKiller(testLogger()).Kill("1", dir) {
		t.Fatal("Kill reported no delivery")
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		cmd.Process.Kill()
		t.Fatal("process group did not exit after SIGTERM")
	}
}
