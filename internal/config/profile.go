package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/wesleyorama2/storeload/internal/load"
	"github.com/wesleyorama2/storeload/internal/load/executor"
)

// ProfileName names one of the built-in load profiles.
type ProfileName string

const (
	// ProfileSmoke is a short constant-VU check with a shared login.
	ProfileSmoke ProfileName = "smoke"
	// ProfileRamp ramps up gradually, holds and ramps down.
	ProfileRamp ProfileName = "ramp"
	// ProfilePeak is a short, intense spike.
	ProfilePeak ProfileName = "peak"
	// ProfileSoak is sustained moderate load.
	ProfileSoak ProfileName = "soak"
)

// ProfileNames lists the built-in profiles in run order.
func ProfileNames() []ProfileName {
	return []ProfileName{ProfileSmoke, ProfileRamp, ProfilePeak, ProfileSoak}
}

// LoginMode selects where bearer tokens come from.
type LoginMode string

const (
	// LoginShared logs in once at setup and hands the token to every VU.
	LoginShared LoginMode = "shared"
	// LoginPerVU gives every VU its own refreshing token cache.
	LoginPerVU LoginMode = "per-vu"
)

// Thresholds are pass/fail expressions evaluated against the final
// metrics, in the form "p95 < 800ms" or "rate < 0.01".
type Thresholds struct {
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`
	HTTPReqFailed   []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`
	HTTPReqs        []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`
}

// Count returns the number of expressions.
func (t Thresholds) Count() int {
	return len(t.HTTPReqDuration) + len(t.HTTPReqFailed) + len(t.HTTPReqs)
}

// Profile is one named concurrency shape plus the traffic settings that go
// with it.
type Profile struct {
	Name     ProfileName   `json:"name" yaml:"name"`
	Executor executor.Type `json:"executor" yaml:"executor"`

	// Constant-VU profiles
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Ramping profiles
	Stages []executor.Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	Login      LoginMode            `json:"login" yaml:"login"`
	Selection  load.SelectionPolicy `json:"selection" yaml:"selection"`
	Pacing     load.PacingPlan      `json:"pacing" yaml:"pacing"`
	Thresholds Thresholds           `json:"thresholds" yaml:"thresholds"`

	GracefulRampDown time.Duration `json:"gracefulRampDown" yaml:"gracefulRampDown"`
	GracefulStop     time.Duration `json:"gracefulStop" yaml:"gracefulStop"`
}

// ExecutorConfig converts the profile into the executor's configuration.
func (p *Profile) ExecutorConfig() *executor.Config {
	cfg := &executor.Config{
		Name:             string(p.Name),
		Type:             p.Executor,
		GracefulRampDown: p.GracefulRampDown,
		GracefulStop:     p.GracefulStop,
	}
	switch p.Executor {
	case executor.TypeConstantVUs:
		cfg.VUs = p.VUs
		cfg.Duration = p.Duration
	case executor.TypeRampingVUs:
		cfg.Stages = append([]executor.Stage(nil), p.Stages...)
	}
	return cfg
}

// TotalDuration returns the planned length of the profile, excluding drain.
func (p *Profile) TotalDuration() time.Duration {
	return p.ExecutorConfig().TotalDuration()
}

// MaxVUs returns the highest concurrency the profile reaches.
func (p *Profile) MaxVUs() int {
	return p.ExecutorConfig().MaxVUs()
}

func (p *Profile) clone() *Profile {
	cp := *p
	cp.Stages = append([]executor.Stage(nil), p.Stages...)
	cp.Thresholds = Thresholds{
		HTTPReqDuration: append([]string(nil), p.Thresholds.HTTPReqDuration...),
		HTTPReqFailed:   append([]string(nil), p.Thresholds.HTTPReqFailed...),
		HTTPReqs:        append([]string(nil), p.Thresholds.HTTPReqs...),
	}
	return &cp
}

// validate adds every problem with the profile to errs.
func (p *Profile) validate(errs *ValidationErrors) {
	prefix := "profiles." + string(p.Name)

	if err := p.ExecutorConfig().Validate(); err != nil {
		if ve, ok := err.(*executor.ValidationError); ok {
			errs.Add(prefix+"."+ve.Field, ve.Message)
		} else {
			errs.Add(prefix, err.Error())
		}
	}
	if p.Executor == executor.TypeConstantVUs && p.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}

	switch p.Login {
	case LoginShared, LoginPerVU:
	default:
		errs.Add(prefix+".login", fmt.Sprintf("invalid login mode: %q (expected shared|per-vu)", p.Login))
	}

	if err := p.Selection.Validate(); err != nil {
		errs.Add(prefix+".selection", err.Error())
	}

	validatePacing(prefix+".pacing", p.Pacing, errs)
	validateThresholds(prefix+".thresholds", p.Thresholds, errs)
}

func validatePacing(prefix string, plan load.PacingPlan, errs *ValidationErrors) {
	slots := []struct {
		name string
		r    load.Range
	}{
		{"afterCatalog", plan.AfterCatalog},
		{"afterLists", plan.AfterLists},
		{"beforeDetail", plan.BeforeDetail},
		{"betweenDetailAndRelated", plan.BetweenDetailAndRelated},
		{"beforeAuth", plan.BeforeAuth},
		{"final", plan.Final},
	}
	for _, s := range slots {
		if s.r.Min < 0 || s.r.Max < 0 {
			errs.Add(prefix+"."+s.name, "pause cannot be negative")
		}
		if s.r.Min > s.r.Max {
			errs.Add(prefix+"."+s.name, "min must be less than or equal to max")
		}
	}
}

// Pacing plans reproduce the jitter call sites of each profile.
var defaultPacing = map[ProfileName]load.PacingPlan{
	ProfileSmoke: {
		Final: load.Seconds(1, 1),
	},
	ProfileRamp: {
		AfterCatalog:            load.Seconds(0.2, 1.2),
		AfterLists:              load.Seconds(0.2, 1.2),
		BetweenDetailAndRelated: load.Seconds(0.1, 0.6),
		BeforeAuth:              load.Seconds(0.1, 0.7),
		Final:                   load.Seconds(0.2, 1.4),
	},
	ProfilePeak: {
		AfterCatalog:            load.Seconds(0.1, 0.8),
		BeforeDetail:            load.Seconds(0.05, 0.4),
		BetweenDetailAndRelated: load.Seconds(0.05, 0.4),
		BeforeAuth:              load.Seconds(0.05, 0.5),
		Final:                   load.Seconds(0.1, 0.9),
	},
	ProfileSoak: {
		AfterCatalog:            load.Seconds(0.3, 2.0),
		AfterLists:              load.Seconds(0.3, 2.0),
		BetweenDetailAndRelated: load.Seconds(0.2, 1.2),
		BeforeAuth:              load.Seconds(0.3, 2.0),
		Final:                   load.Seconds(0.4, 2.5),
	},
}

type thresholdDefaults struct {
	p95, p99    time.Duration
	failureRate float64
}

var defaultThresholds = map[ProfileName]thresholdDefaults{
	ProfileSmoke: {800 * time.Millisecond, 1500 * time.Millisecond, 0.01},
	ProfileRamp:  {1200 * time.Millisecond, 2500 * time.Millisecond, 0.01},
	ProfilePeak:  {1500 * time.Millisecond, 3000 * time.Millisecond, 0.02},
	ProfileSoak:  {1200 * time.Millisecond, 2500 * time.Millisecond, 0.01},
}

// buildThresholds renders the latency ceilings and failure rate as
// threshold expressions.
func buildThresholds(p95, p99 time.Duration, failureRate float64) Thresholds {
	return Thresholds{
		HTTPReqDuration: []string{
			"p95 < " + p95.String(),
			"p99 < " + p99.String(),
		},
		HTTPReqFailed: []string{
			"rate < " + strconv.FormatFloat(failureRate, 'g', -1, 64),
		},
	}
}
