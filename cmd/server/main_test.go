package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	ac "github.com/linnemanlabs/acuity/internal/cfg"
	"github.com/linnemanlabs/acuity/internal/triage"
)

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	// Create a real unixgram listener.
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}

	got := string(buf[:n])
	if got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func TestLoadThresholds_DefaultWhenUnset(t *testing.T) {
	t.Parallel()

	th, err := loadThresholds("")
	if err != nil {
		t.Fatalf("loadThresholds: %v", err)
	}
	if !reflect.DeepEqual(th, triage.DefaultThresholds()) {
		t.Errorf("thresholds = %+v, want defaults", th)
	}
}

func TestLoadThresholds_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("pain_severe: 9\naltered_consciousness_moderate: false\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	th, err := loadThresholds(path)
	if err != nil {
		t.Fatalf("loadThresholds: %v", err)
	}
	if th.PainSevere != 9 || th.AlteredModerate {
		t.Errorf("thresholds = %+v, want pain_severe 9 and altered off", th)
	}
	if th.OxygenCritical != triage.DefaultThresholds().OxygenCritical {
		t.Errorf("unset keys should keep defaults, o2_critical = %v", th.OxygenCritical)
	}
}

func TestLoadThresholds_Errors(t *testing.T) {
	t.Parallel()

	if _, err := loadThresholds(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}

	path := filepath.Join(t.TempDir(), "typo.yaml")
	if err := os.WriteFile(path, []byte("pain_sever: 9\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	_, err := loadThresholds(path)
	if err == nil || !strings.Contains(err.Error(), path) {
		t.Errorf("err = %v, want error naming %s", err, path)
	}
}

func TestBuildClassifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      ac.Config
		strategy string
		version  string
	}{
		{
			name:     "rules",
			cfg:      ac.Config{Classifier: ac.ClassifierRules},
			strategy: "rules",
		},
		{
			name:     "http",
			cfg:      ac.Config{Classifier: ac.ClassifierHTTP, ModelURL: "http://model.invalid/predict", ModelVersion: "esi-gbm-7", ModelTimeoutMS: 500},
			strategy: "http",
			version:  "esi-gbm-7",
		},
		{
			name:     "claude",
			cfg:      ac.Config{Classifier: ac.ClassifierClaude, ClaudeAPIKey: "sk-test", ClaudeModel: "claude-sonnet-4-20250514", ModelTimeoutMS: 500},
			strategy: "claude",
			version:  "claude/claude-sonnet-4-20250514",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := buildClassifier(&tt.cfg, triage.DefaultThresholds(), log.Nop(), triage.Hooks{})
			if err != nil {
				t.Fatalf("buildClassifier: %v", err)
			}
			info, ok := c.(interface{ Info() triage.ClassifierInfo })
			if !ok {
				t.Fatalf("%T does not report info", c)
			}
			got := info.Info()
			if got.Strategy != tt.strategy || got.ModelVersion != tt.version {
				t.Errorf("info = %+v, want strategy %q version %q", got, tt.strategy, tt.version)
			}
			if tt.version != "" && got.Timeout != (500*time.Millisecond).String() {
				t.Errorf("Timeout = %q, want 500ms", got.Timeout)
			}
		})
	}

	if _, err := buildClassifier(&ac.Config{Classifier: "oracle"}, triage.DefaultThresholds(), log.Nop(), triage.Hooks{}); err == nil {
		t.Error("unknown classifier accepted")
	}
}

func TestWaitFor(t *testing.T) {
	t.Parallel()

	if err := waitFor(context.Background(), func() {}); err != nil {
		t.Errorf("waitFor = %v, want nil", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	block := make(chan struct{})
	defer close(block)
	if err := waitFor(ctx, func() { <-block }); err == nil {
		t.Error("waitFor ignored an expired context")
	}
}
