package config

import (
	"testing"
	"time"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Name != "flowdesk" {
		t.Errorf("database name = %q", cfg.Database.Name)
	}
	if cfg.Engine.WaveConcurrency != 8 {
		t.Errorf("wave concurrency = %d, want 8", cfg.Engine.WaveConcurrency)
	}
	if cfg.Engine.MaxActions != 100 {
		t.Errorf("max actions = %d, want 100", cfg.Engine.MaxActions)
	}
	if cfg.Engine.ReconcileInterval != 10*time.Minute {
		t.Errorf("reconcile interval = %s", cfg.Engine.ReconcileInterval)
	}
	if len(cfg.Queue.Brokers) == 0 || cfg.Queue.Topic == "" || cfg.Queue.GroupID == "" {
		t.Errorf("queue defaults incomplete: %+v", cfg.Queue)
	}
	if cfg.Push.Enabled {
		t.Error("push should default to disabled")
	}
	if cfg.Monitoring.Tracing.SampleRatio <= 0 || cfg.Monitoring.Tracing.SampleRatio > 1 {
		t.Errorf("sample ratio = %f", cfg.Monitoring.Tracing.SampleRatio)
	}
}
