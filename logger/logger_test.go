package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfigureFormats(t *testing.T) {
	log := GetLogger()

	if err := log.Configure("debug", "json", "stdout", 0); err != nil {
		t.Fatalf("Configure json: %v", err)
	}
	if err := log.Configure("info", "text", "stderr", 0); err != nil {
		t.Fatalf("Configure text: %v", err)
	}
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatal("expected error for invalid format")
	}
	if err := log.Configure("loud", "json", "stdout", 0); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestWithComponentTagsEntries(t *testing.T) {
	log := GetLogger()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.Configure("info", "text", "stdout", 0)

	if err := log.Configure("info", "json", "stdout", 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	log.SetOutput(&buf)

	log.WithComponent("claim").Info("claimed opportunity")

	out := buf.String()
	if !strings.Contains(out, `"component":"claim"`) {
		t.Errorf("log output missing component field: %s", out)
	}
	if !strings.Contains(out, "claimed opportunity") {
		t.Errorf("log output missing message: %s", out)
	}
}

func TestStatsSnapshotCounters(t *testing.T) {
	before := StatsSnapshot()

	IncrementEventReceived()
	IncrementClaimWon()
	IncrementClaimLost()
	IncrementClaimFailure()
	IncrementTokenRefresh()
	IncrementHubReconnect()

	after := StatsSnapshot()
	for _, key := range []string{"events_received", "claims_won", "claims_lost", "claim_failures", "token_refreshes", "hub_reconnects"} {
		if after[key] != before[key]+1 {
			t.Errorf("%s = %d, want %d", key, after[key], before[key]+1)
		}
	}
}

func TestWarnAndErrorRecorded(t *testing.T) {
	log := GetLogger()
	var buf bytes.Buffer
	log.SetOutput(&buf)

	before := StatsSnapshot()
	log.WithComponent("hub").Warn("connection lost")
	log.WithComponent("hub").Error("handler panicked")
	after := StatsSnapshot()

	if after["warns"] != before["warns"]+1 {
		t.Errorf("warns = %d, want %d", after["warns"], before["warns"]+1)
	}
	if after["errors"] != before["errors"]+1 {
		t.Errorf("errors = %d, want %d", after["errors"], before["errors"]+1)
	}
}
