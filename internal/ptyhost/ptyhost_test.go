package ptyhost

import (
	"bufio"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestSpawnEchoProducesOutput(t *testing.T) {
	h, err := Spawn("echo", []string{"hello", "world"}, os.Environ(), 80, 24)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer h.CloseMaster()

	master := h.Master()
	master.SetReadDeadline(time.Now().Add(2 * time.Second))

	reader := bufio.NewReader(master)
	line, _ := reader.ReadString('\n')
	if !strings.Contains(line, "hello world") {
		t.Errorf("output = %q, want to contain %q", line, "hello world")
	}

	status := h.Wait()
	if status.Code != 0 {
		t.Errorf("exit status = %+v, want code 0", status)
	}
}

func TestSpawnUnknownCommand(t *testing.T) {
	_, err := Spawn("spectertty-definitely-not-a-real-binary", nil, os.Environ(), 80, 24)
	if err == nil {
		t.Fatal("Spawn() = nil error, want SpawnError for missing binary")
	}
	var spawnErr *SpawnError
	if !asSpawnError(err, &spawnErr) {
		t.Errorf("error = %v (%T), want *SpawnError", err, err)
	}
}

func asSpawnError(err error, target **SpawnError) bool {
	if se, ok := err.(*SpawnError); ok {
		*target = se
		return true
	}
	return false
}

func TestWaitCachesStatus(t *testing.T) {
	h, err := Spawn("sh", []string{"-c", "exit 7"}, os.Environ(), 80, 24)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer h.CloseMaster()

	first := h.Wait()
	second := h.Wait()
	if first != second {
		t.Errorf("Wait() not idempotent: %+v then %+v", first, second)
	}
	if first.Code != 7 {
		t.Errorf("Code = %d, want 7", first.Code)
	}
}

func TestWaitReportsSignalKill(t *testing.T) {
	h, err := Spawn("sh", []string{"-c", "kill -TERM $$"}, os.Environ(), 80, 24)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer h.CloseMaster()

	status := h.Wait()
	if !status.Signaled() || status.Signal != "SIGTERM" {
		t.Errorf("status = %+v, want signal SIGTERM", status)
	}
}

func TestResizeIdempotentAfterClose(t *testing.T) {
	h, err := Spawn("sh", []string{"-c", "sleep 0.2"}, os.Environ(), 80, 24)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	h.CloseMaster()

	if err := h.Resize(100, 30); err != nil {
		t.Errorf("Resize after close = %v, want nil (silent no-op)", err)
	}
	h.Wait()
}

func TestSignalNumberRoundTrip(t *testing.T) {
	if n := SignalNumber("SIGTERM"); n != int(syscall.SIGTERM) {
		t.Errorf("SignalNumber(SIGTERM) = %d, want %d", n, syscall.SIGTERM)
	}
	if n := SignalNumber("not-a-signal"); n != -1 {
		t.Errorf("SignalNumber(unknown) = %d, want -1", n)
	}
}
