//go:build live

package live_test

import (
	"encoding/json"
	"strings"
	"testing"
)

// TestLiveTriggerPipeline fires a real trigger webhook. Requires
// CISYNC_LIVE_TRIGGER_URL and CISYNC_LIVE_TRIGGER_TOKEN; the ref defaults to
// main and can be overridden with CISYNC_LIVE_BRANCH.
func TestLiveTriggerPipeline(t *testing.T) {
	values := requireLiveEnv(t, "CISYNC_LIVE_TRIGGER_URL", "CISYNC_LIVE_TRIGGER_TOKEN")
	webhookURL, token := values[0], values[1]

	t.Setenv("CISYNC_DISABLE_STORED_CONFIG", "1")

	output, err := runLiveCommand(t,
		"--json", "trigger",
		"--url", webhookURL,
		"--ref", "main",
		"--token", token,
		"--var", "CISYNC_LIVE_TEST=true",
	)
	if err != nil {
		t.Fatalf("trigger failed: %v\noutput: %s", err, output)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(output), &payload); err != nil {
		t.Fatalf("trigger returned invalid JSON: %v\noutput: %s", err, output)
	}

	statusCode, ok := payload["status_code"].(float64)
	if !ok || statusCode < 200 || statusCode >= 300 {
		t.Fatalf("expected 2xx trigger status, got: %#v", payload["status_code"])
	}
}

// TestLiveHostHealth checks the configured host through the doctor's health
// probe. Requires CISYNC_LIVE_HOST.
func TestLiveHostHealth(t *testing.T) {
	values := requireLiveEnv(t, "CISYNC_LIVE_HOST")

	t.Setenv("CISYNC_DISABLE_STORED_CONFIG", "1")
	t.Setenv("CISYNC_HOST", values[0])

	output, err := runLiveCommand(t, "auth", "status")
	if err != nil {
		t.Fatalf("auth status failed: %v\noutput: %s", err, output)
	}

	if !strings.Contains(output, "Target CI host:") {
		t.Fatalf("expected auth status output, got: %s", output)
	}
}
