package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked, plus a
// flag for changes that need one.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	StepsChanged bool
	StepChanges  []StepDiff

	MaxHandlesChanged bool
	NewMaxHandles     int

	// CandidatesChanged is true when the MIME negotiation order changed.
	// New sessions pick it up; running ones keep their negotiated type.
	CandidatesChanged bool

	// RestartRequired is true when the device or listen address changed.
	RestartRequired bool
}

// StepDiff describes what changed for a single step.
type StepDiff struct {
	Category           string
	MinDurationChanged bool
	AutoStopChanged    bool
	NextChanged        bool
	Added              bool
	Removed            bool
}

// Changed reports whether d carries any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.StepsChanged || d.MaxHandlesChanged ||
		d.CandidatesChanged || d.RestartRequired
}

// Diff compares old and new configs and returns what changed. Step changes
// are sorted by category.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Output.MaxHandles != new.Output.MaxHandles {
		d.MaxHandlesChanged = true
		d.NewMaxHandles = new.Output.MaxHandles
	}

	if !slices.Equal(old.Capture.MimeCandidates, new.Capture.MimeCandidates) {
		d.CandidatesChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Device.Name != new.Device.Name ||
		old.Device.SampleRate != new.Device.SampleRate ||
		old.Device.Channels != new.Device.Channels ||
		!reflect.DeepEqual(old.Device.Options, new.Device.Options) {
		d.RestartRequired = true
	}

	oldSteps := make(map[string]StepConfig, len(old.Steps))
	for _, s := range old.Steps {
		oldSteps[s.Category] = s
	}
	newSteps := make(map[string]StepConfig, len(new.Steps))
	for _, s := range new.Steps {
		newSteps[s.Category] = s
	}

	for category, o := range oldSteps {
		n, exists := newSteps[category]
		if !exists {
			d.StepChanges = append(d.StepChanges, StepDiff{Category: category, Removed: true})
			continue
		}
		sd := StepDiff{
			Category:           category,
			MinDurationChanged: o.MinDuration != n.MinDuration,
			AutoStopChanged:    o.AutoStop != n.AutoStop,
			NextChanged:        o.Next != n.Next,
		}
		if sd.MinDurationChanged || sd.AutoStopChanged || sd.NextChanged {
			d.StepChanges = append(d.StepChanges, sd)
		}
	}
	for category := range newSteps {
		if _, exists := oldSteps[category]; !exists {
			d.StepChanges = append(d.StepChanges, StepDiff{Category: category, Added: true})
		}
	}
	slices.SortFunc(d.StepChanges, func(a, b StepDiff) int {
		switch {
		case a.Category < b.Category:
			return -1
		case a.Category > b.Category:
			return 1
		}
		return 0
	})
	d.StepsChanged = len(d.StepChanges) > 0

	return d
}
