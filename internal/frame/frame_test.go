package frame

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFrameMarshal(t *testing.T) {
	f := Text(1.5, Stdout, "hello\nworld")
	data, err := f.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if strings.Count(string(data), "\n") != 0 {
		t.Errorf("marshaled frame contains a raw newline: %q", data)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decoding produced output: %v", err)
	}
	if decoded["type"] != "stdout" {
		t.Errorf("type = %v, want stdout", decoded["type"])
	}
	if decoded["data"] != "hello\nworld" {
		t.Errorf("data = %v, want embedded newline preserved", decoded["data"])
	}
	if _, ok := decoded["binary"]; ok {
		t.Error("binary should be omitted when false")
	}
}

func TestBinaryFrameRoundTrip(t *testing.T) {
	raw := []byte{0xff, 0x00, 0xfe, 'a', 'b'}
	f := BinaryFrame(0, Stdout, raw)

	if !f.Binary {
		t.Fatal("Binary = false, want true")
	}

	decoded, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		t.Fatalf("data is not valid base64: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Errorf("round-trip = %v, want %v", decoded, raw)
	}
}

func TestAutoTextChoosesEncoding(t *testing.T) {
	if f := AutoText(0, Stdout, []byte("plain text")); f.Binary {
		t.Error("AutoText marked valid UTF-8 as binary")
	}
	if f := AutoText(0, Stdout, []byte{0xff, 0xfe, 0x00}); !f.Binary {
		t.Error("AutoText failed to mark invalid UTF-8 as binary")
	}
}

func TestExitFrameNormalExit(t *testing.T) {
	f := ExitFrame(0, 7, "")
	if f.Code == nil || *f.Code != 7 {
		t.Fatalf("Code = %v, want 7", f.Code)
	}
	if f.Signal != "" {
		t.Errorf("Signal = %q, want empty", f.Signal)
	}
}

func TestExitFrameSignalKill(t *testing.T) {
	f := ExitFrame(0, 0, "SIGTERM")
	if f.Code != nil {
		t.Errorf("Code = %v, want nil for a signal exit", f.Code)
	}
	if f.Signal != "SIGTERM" {
		t.Errorf("Signal = %q, want SIGTERM", f.Signal)
	}
}

func TestIdleFrameDurMs(t *testing.T) {
	f := IdleFrame(0, 250)
	if f.DurMs == nil || *f.DurMs != 250 {
		t.Fatalf("DurMs = %v, want 250", f.DurMs)
	}
}

func TestPromptFrameFields(t *testing.T) {
	f := PromptFrame(0, "user$ ", "^.+\\$ $")
	if f.Type != Prompt || f.Data != "user$ " || f.Pattern != "^.+\\$ $" {
		t.Errorf("unexpected prompt frame: %+v", f)
	}
}

func TestClockMonotonic(t *testing.T) {
	c := NewClock()
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		next := c.Now()
		if next < prev {
			t.Fatalf("clock went backwards: %v then %v", prev, next)
		}
		prev = next
	}
}
