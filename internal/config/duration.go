package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/storeload/internal/load/executor"
)

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Integer seconds: "30" (interpreted as 30 seconds)
//
// An empty string parses to zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	// Try standard Go duration parsing first
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	// Try parsing as integer seconds
	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ParseLatencyBound parses a latency ceiling. Bare integers are
// milliseconds, as in k6 threshold expressions.
func ParseLatencyBound(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid latency bound: %s", s)
	}
	return d, nil
}

// ParseStages parses a comma separated "duration:target" list, for
// example "30s:10,1m:10,30s:0".
func ParseStages(s string) ([]executor.Stage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("no stages given")
	}

	parts := strings.Split(s, ",")
	stages := make([]executor.Stage, 0, len(parts))
	for i, part := range parts {
		durStr, targetStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("stage %d: expected duration:target, got %q", i+1, part)
		}

		d, err := ParseDurationString(durStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i+1, err)
		}

		target, err := strconv.Atoi(strings.TrimSpace(targetStr))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target %q", i+1, targetStr)
		}

		stage := executor.Stage{Duration: d, Target: target}
		if err := stage.Validate(); err != nil {
			return nil, fmt.Errorf("stage %d: %w", i+1, err)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// FormatStages is the inverse of ParseStages.
func FormatStages(stages []executor.Stage) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = s.Duration.String() + ":" + strconv.Itoa(s.Target)
	}
	return strings.Join(parts, ",")
}
