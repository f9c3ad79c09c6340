package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/spectertty/spectertty/internal/config"
)

func parseFrames(t *testing.T, out []byte) []map[string]interface{} {
	t.Helper()
	var frames []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var f map[string]interface{}
		if err := json.Unmarshal(line, &f); err != nil {
			t.Fatalf("invalid frame JSON %q: %v", line, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func baseConfig() config.Config {
	cfg := config.Default()
	cfg.Cols = 80
	cfg.Rows = 24
	cfg.JSONFrames = true
	return cfg
}

func TestRunEchoProducesExpectedFrames(t *testing.T) {
	cfg := baseConfig()
	cfg.Command = "echo"
	cfg.Args = []string{"Hello World"}

	var out bytes.Buffer
	sup := New(cfg, nil, &out, nil)
	code := sup.Run(context.Background())

	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	frames := parseFrames(t, out.Bytes())
	if len(frames) == 0 {
		t.Fatal("no frames produced")
	}

	last := frames[len(frames)-1]
	if last["type"] != "exit" {
		t.Errorf("last frame type = %v, want exit", last["type"])
	}
	if last["code"].(float64) != 0 {
		t.Errorf("exit code field = %v, want 0", last["code"])
	}

	var sawGreeting bool
	for _, f := range frames {
		if f["type"] == "stdout" && strings.Contains(f["data"].(string), "Hello World") {
			sawGreeting = true
		}
	}
	if !sawGreeting {
		t.Errorf("expected a stdout frame containing the echoed text, got %+v", frames)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	cfg := baseConfig()
	cfg.Command = "sh"
	cfg.Args = []string{"-c", "exit 7"}

	var out bytes.Buffer
	sup := New(cfg, nil, &out, nil)
	code := sup.Run(context.Background())

	if code != 7 {
		t.Fatalf("exit code = %d, want 7", code)
	}

	frames := parseFrames(t, out.Bytes())
	last := frames[len(frames)-1]
	if last["code"].(float64) != 7 {
		t.Errorf("exit frame code = %v, want 7", last["code"])
	}
}

func TestRunSignalTermination(t *testing.T) {
	cfg := baseConfig()
	cfg.Command = "sh"
	cfg.Args = []string{"-c", "kill -TERM $$"}

	var out bytes.Buffer
	sup := New(cfg, nil, &out, nil)
	code := sup.Run(context.Background())

	if code != 128+15 {
		t.Fatalf("exit code = %d, want %d", code, 128+15)
	}

	frames := parseFrames(t, out.Bytes())
	last := frames[len(frames)-1]
	if last["signal"] != "SIGTERM" {
		t.Errorf("exit frame signal = %v, want SIGTERM", last["signal"])
	}
}

func TestRunIdleDetection(t *testing.T) {
	cfg := baseConfig()
	cfg.Command = "sh"
	cfg.Args = []string{"-c", "echo a; sleep 0.3; echo b"}
	cfg.IdleTimeout = 80 * time.Millisecond

	var out bytes.Buffer
	sup := New(cfg, nil, &out, nil)
	code := sup.Run(context.Background())
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	frames := parseFrames(t, out.Bytes())
	var sawIdle bool
	for _, f := range frames {
		if f["type"] == "idle" {
			sawIdle = true
			if f["dur_ms"].(float64) < 80 {
				t.Errorf("idle dur_ms = %v, want >= 80", f["dur_ms"])
			}
		}
	}
	if !sawIdle {
		t.Errorf("expected at least one idle frame, got %+v", frames)
	}
}

func TestRunPromptMatch(t *testing.T) {
	cfg := baseConfig()
	cfg.Command = "sh"
	cfg.Args = []string{"-c", `printf "user$ "`}

	pattern := regexp.MustCompile(`\$ $`)

	var out bytes.Buffer
	sup := New(cfg, []*regexp.Regexp{pattern}, &out, nil)
	sup.Run(context.Background())

	frames := parseFrames(t, out.Bytes())
	var sawPrompt bool
	for _, f := range frames {
		if f["type"] == "prompt" {
			sawPrompt = true
		}
	}
	if !sawPrompt {
		t.Errorf("expected a prompt frame, got %+v", frames)
	}
}

func TestRunWithoutJSONPassesRawOutputThrough(t *testing.T) {
	cfg := config.Default()
	cfg.Cols = 80
	cfg.Rows = 24
	cfg.Command = "echo"
	cfg.Args = []string{"Hello World"}

	var out bytes.Buffer
	sup := New(cfg, nil, &out, nil)
	code := sup.Run(context.Background())

	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "Hello World") {
		t.Errorf("stdout = %q, want it to contain the raw echoed text", out.String())
	}
	if strings.Contains(out.String(), `"type"`) {
		t.Errorf("stdout = %q, want no JSON frames without --json", out.String())
	}
}

func TestRunCompactModeCollapsesProgress(t *testing.T) {
	cfg := baseConfig()
	cfg.Command = "sh"
	cfg.Args = []string{"-c", `printf "10%%\r20%%\r30%%\n"`}
	cfg.TokenMode = config.ModeCompact

	var out bytes.Buffer
	sup := New(cfg, nil, &out, nil)
	sup.Run(context.Background())

	frames := parseFrames(t, out.Bytes())
	var sawFinal bool
	for _, f := range frames {
		if f["type"] == "line_update" && f["data"] == "30%" {
			sawFinal = true
		}
	}
	if !sawFinal {
		t.Errorf("expected a line_update frame with final progress state, got %+v", frames)
	}
}
