package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zone.yaml")
	raw := `ping_interval_ms: 2000
vote_skip_threshold: 0.5
join_password: pw
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.PingInterval() != 2*time.Second {
		t.Fatalf("ping=%v", c.PingInterval())
	}
	if c.VoteSkipThreshold != 0.5 {
		t.Fatalf("threshold=%v", c.VoteSkipThreshold)
	}
	if c.JoinPassword != "pw" {
		t.Fatalf("join password=%q", c.JoinPassword)
	}

	// Untouched keys keep their defaults.
	if c.PerUserQueueLimit != Defaults().PerUserQueueLimit {
		t.Fatalf("queue limit=%d", c.PerUserQueueLimit)
	}
	if c.BuildBoundaryX != Defaults().BuildBoundaryX {
		t.Fatalf("boundary=%d", c.BuildBoundaryX)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err=%v want not-exist", err)
	}
	if c.PingIntervalMS != Defaults().PingIntervalMS {
		t.Fatalf("defaults not returned alongside the error")
	}
}
