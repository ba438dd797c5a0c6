package config_test

import (
	"testing"
	"time"

	"github.com/MrWong99/intakevox/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
	if len(d.StepChanges) != 0 {
		t.Errorf("expected 0 step changes, got %d", len(d.StepChanges))
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level changes should not require a restart")
	}
}

func TestDiff_StepPolicyChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Steps[1].MinDuration = 5
	new.Steps[2].AutoStop = 10 * time.Second

	d := config.Diff(old, new)
	if !d.StepsChanged {
		t.Fatal("expected StepsChanged=true")
	}
	if len(d.StepChanges) != 2 {
		t.Fatalf("expected 2 step changes, got %d: %+v", len(d.StepChanges), d.StepChanges)
	}
	// Sorted by category: breath, speech.
	if d.StepChanges[0].Category != "breath" || !d.StepChanges[0].AutoStopChanged {
		t.Errorf("first change: got %+v", d.StepChanges[0])
	}
	if d.StepChanges[1].Category != "speech" || !d.StepChanges[1].MinDurationChanged {
		t.Errorf("second change: got %+v", d.StepChanges[1])
	}
	if d.StepChanges[1].AutoStopChanged || d.StepChanges[1].NextChanged {
		t.Errorf("speech should only report min duration, got %+v", d.StepChanges[1])
	}
}

func TestDiff_StepsAddedAndRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{Steps: []config.StepConfig{
		{Category: "cough", Next: "speech"},
		{Category: "speech"},
	}}
	new := &config.Config{Steps: []config.StepConfig{
		{Category: "cough", Next: "breath"},
		{Category: "breath"},
	}}

	d := config.Diff(old, new)
	want := map[string]config.StepDiff{
		"breath": {Category: "breath", Added: true},
		"cough":  {Category: "cough", NextChanged: true},
		"speech": {Category: "speech", Removed: true},
	}
	if len(d.StepChanges) != len(want) {
		t.Fatalf("expected %d changes, got %+v", len(want), d.StepChanges)
	}
	for _, sd := range d.StepChanges {
		if sd != want[sd.Category] {
			t.Errorf("%s: got %+v, want %+v", sd.Category, sd, want[sd.Category])
		}
	}
}

func TestDiff_MaxHandlesAndCandidates(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Output.MaxHandles = 2
	new.Capture.MimeCandidates = []string{"audio/pcm"}

	d := config.Diff(old, new)
	if !d.MaxHandlesChanged || d.NewMaxHandles != 2 {
		t.Errorf("max handles: got changed=%v new=%d", d.MaxHandlesChanged, d.NewMaxHandles)
	}
	if !d.CandidatesChanged {
		t.Error("expected CandidatesChanged=true")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = "127.0.0.1:1" }},
		{"device name", func(c *config.Config) { c.Device.Name = "synth" }},
		{"device channels", func(c *config.Config) { c.Device.Channels = 2 }},
		{"device options", func(c *config.Config) { c.Device.Options = map[string]any{"frequency": 220} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			new := config.Default()
			tt.mutate(new)
			if !config.Diff(old, new).RestartRequired {
				t.Error("expected RestartRequired=true")
			}
		})
	}
}
