package correlate

import (
	"fmt"
	"time"

	"sentinel/core"
)

// Detector evaluates one pattern over a correlation group. Detectors are
// independent and order-insensitive; several may fire for the same
// observation. Events arrive pruned to the correlation window and ordered
// by timestamp.
type Detector interface {
	Name() string
	Detect(key string, events []*core.SecurityEvent) *core.PatternMatch
}

// Default detector thresholds
const (
	velocityCount   = 5
	velocityWindow  = 60 * time.Second
	bruteForceMin   = 3
	privEscMin      = 2
	exfiltrationMin = 10
)

// DefaultDetectors returns the built-in detector set
func DefaultDetectors() []Detector {
	return []Detector{
		&VelocityDetector{},
		&BruteForceDetector{},
		&PrivilegeEscalationDetector{},
		&ExfiltrationDetector{},
	}
}

// VelocityDetector fires when at least 5 events land within 60 seconds
// inside a group.
type VelocityDetector struct{}

func (d *VelocityDetector) Name() string { return string(core.PatternVelocity) }

func (d *VelocityDetector) Detect(key string, events []*core.SecurityEvent) *core.PatternMatch {
	if len(events) < velocityCount {
		return nil
	}
	last := events[len(events)-velocityCount:]
	span := last[len(last)-1].Timestamp.Sub(last[0].Timestamp)
	if span >= velocityWindow {
		return nil
	}
	return core.NewPatternMatch(core.PatternVelocity, key, core.SeverityHigh,
		fmt.Sprintf("%d events within %s for %s", velocityCount, span.Round(time.Second), key),
		last)
}

// BruteForceDetector fires when at least 3 authentication failures are
// followed chronologically by a success.
type BruteForceDetector struct{}

func (d *BruteForceDetector) Name() string { return string(core.PatternBruteForce) }

func (d *BruteForceDetector) Detect(key string, events []*core.SecurityEvent) *core.PatternMatch {
	var failures []*core.SecurityEvent
	var success *core.SecurityEvent

	for _, e := range events {
		switch {
		case e.IsAuthFailure():
			failures = append(failures, e)
		case e.IsAuthSuccess():
			if len(failures) >= bruteForceMin {
				success = e
			}
		}
		if success != nil {
			break
		}
	}
	if success == nil {
		return nil
	}

	payload := append(append([]*core.SecurityEvent{}, failures[len(failures)-bruteForceMin:]...), success)
	return core.NewPatternMatch(core.PatternBruteForce, key, core.SeverityCritical,
		fmt.Sprintf("authentication success after %d failures for %s", len(failures), key),
		payload)
}

// PrivilegeEscalationDetector fires on 2 or more admin operations in a group
type PrivilegeEscalationDetector struct{}

func (d *PrivilegeEscalationDetector) Name() string { return string(core.PatternPrivilegeEscalation) }

func (d *PrivilegeEscalationDetector) Detect(key string, events []*core.SecurityEvent) *core.PatternMatch {
	var admin []*core.SecurityEvent
	for _, e := range events {
		if e.Type == core.EventTypeAdminOperation {
			admin = append(admin, e)
		}
	}
	if len(admin) < privEscMin {
		return nil
	}
	return core.NewPatternMatch(core.PatternPrivilegeEscalation, key, core.SeverityHigh,
		fmt.Sprintf("%d admin operations for %s", len(admin), key),
		admin)
}

// ExfiltrationDetector fires on 10 or more data-access or file operations
// in a group.
type ExfiltrationDetector struct{}

func (d *ExfiltrationDetector) Name() string { return string(core.PatternExfiltration) }

func (d *ExfiltrationDetector) Detect(key string, events []*core.SecurityEvent) *core.PatternMatch {
	var access []*core.SecurityEvent
	for _, e := range events {
		if e.Type == core.EventTypeDataAccess || e.Type == core.EventTypeFileOperation {
			access = append(access, e)
		}
	}
	if len(access) < exfiltrationMin {
		return nil
	}
	return core.NewPatternMatch(core.PatternExfiltration, key, core.SeverityCritical,
		fmt.Sprintf("%d data access operations for %s", len(access), key),
		access[len(access)-exfiltrationMin:])
}
