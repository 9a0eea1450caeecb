// Package config builds the immutable run configuration from the
// environment, an optional profile overlay file and command-line overrides.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/storeload/internal/load"
	"github.com/wesleyorama2/storeload/internal/load/executor"
)

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// PrometheusConfig controls the optional /metrics listener.
type PrometheusConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
	Path    string `json:"path"`
}

// RunConfig is built once at startup and never mutated afterwards.
// Overrides produce a modified copy.
type RunConfig struct {
	BaseURL     string                   `json:"baseUrl"`
	Credentials load.Credentials         `json:"-"`
	AuthEnabled bool                     `json:"authEnabled"`
	Profiles    map[ProfileName]*Profile `json:"profiles"`

	HTTP load.HTTPClientConfig `json:"http"`

	// Seed for jitter and random selection; 0 seeds from the clock
	Seed int64 `json:"seed,omitempty"`

	// ReadyTimeout > 0 waits for ReadyPath to answer before the run
	ReadyTimeout time.Duration `json:"readyTimeout,omitempty"`
	ReadyPath    string        `json:"readyPath,omitempty"`

	HistoryDB  string           `json:"historyDb,omitempty"`
	Log        LogConfig        `json:"log"`
	Prometheus PrometheusConfig `json:"prometheus"`
}

// Build converts the raw environment into a validated RunConfig.
func Build(e *Environment) (*RunConfig, error) {
	errs := &ValidationErrors{}

	duration := func(field, value string) time.Duration {
		d, err := ParseDurationString(value)
		if err != nil {
			errs.Add(field, err.Error())
		}
		return d
	}

	cfg := &RunConfig{
		BaseURL:     strings.TrimRight(strings.TrimSpace(e.APIURL), "/"),
		Credentials: load.Credentials{Email: e.Email, Password: e.Password},
		AuthEnabled: parseAuth(e.Auth),
		Seed:        e.Seed,
		ReadyPath:   e.ReadyPath,
		HistoryDB:   e.HistoryDB,
		Log:         LogConfig{Level: strings.ToLower(e.Log.Level), Format: strings.ToLower(e.Log.Format)},
		Prometheus: PrometheusConfig{
			Enabled: e.Prometheus.Enabled,
			Listen:  e.Prometheus.Listen,
			Path:    e.Prometheus.Path,
		},
	}
	cfg.ReadyTimeout = duration("READY_TIMEOUT", e.ReadyTimeout)

	cfg.HTTP = load.DefaultHTTPClientConfig()
	cfg.HTTP.Timeout = duration("HTTP_TIMEOUT", e.HTTP.Timeout)
	cfg.HTTP.MaxIdleConnsPerHost = e.HTTP.MaxIdleConnsPerHost
	cfg.HTTP.InsecureSkipVerify = e.HTTP.InsecureSkipVerify

	rampDownGrace := duration("GRACEFUL_RAMP_DOWN", e.GracefulRampDown)
	stopGrace := duration("GRACEFUL_STOP", e.GracefulStop)

	newProfile := func(name ProfileName, exec executor.Type, login LoginMode, sel load.SelectionPolicy, t ThresholdOptions, envPrefix string) *Profile {
		return &Profile{
			Name:             name,
			Executor:         exec,
			Login:            login,
			Selection:        sel,
			Pacing:           defaultPacing[name],
			Thresholds:       profileThresholds(name, t, envPrefix, errs),
			GracefulRampDown: rampDownGrace,
			GracefulStop:     stopGrace,
		}
	}

	smoke := newProfile(ProfileSmoke, executor.TypeConstantVUs, LoginShared, load.SelectRoundRobin, e.SmokeThresholds, "SMOKE_")
	smoke.VUs = e.VUs
	smoke.Duration = duration("DURATION", e.Duration)

	ramp := newProfile(ProfileRamp, executor.TypeRampingVUs, LoginPerVU, load.SelectRandom, e.RampThresholds, "RAMP_")
	ramp.Stages = []executor.Stage{
		{Duration: duration("RAMP_UP", e.RampUp), Target: e.RampTarget, Name: "ramp-up"},
		{Duration: duration("RAMP_HOLD", e.RampHold), Target: e.RampTarget, Name: "hold"},
		{Duration: duration("RAMP_DOWN", e.RampDown), Target: 0, Name: "ramp-down"},
	}

	peak := newProfile(ProfilePeak, executor.TypeRampingVUs, LoginPerVU, load.SelectRandom, e.PeakThresholds, "PEAK_")
	peak.Stages = []executor.Stage{
		{Duration: duration("PEAK_RAMP_UP", e.PeakRampUp), Target: e.PeakVUs, Name: "ramp-up"},
		{Duration: duration("PEAK_HOLD", e.PeakHold), Target: e.PeakVUs, Name: "hold"},
		{Duration: duration("PEAK_RAMP_DOWN", e.PeakRampDown), Target: 0, Name: "ramp-down"},
	}

	soak := newProfile(ProfileSoak, executor.TypeConstantVUs, LoginPerVU, load.SelectRandom, e.SoakThresholds, "SOAK_")
	soak.VUs = e.SoakVUs
	soak.Duration = duration("SOAK_DURATION", e.SoakDuration)

	cfg.Profiles = map[ProfileName]*Profile{
		ProfileSmoke: smoke,
		ProfileRamp:  ramp,
		ProfilePeak:  peak,
		ProfileSoak:  soak,
	}

	if errs.HasErrors() {
		return nil, errs
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseAuth follows the "anything but true disables it" rule; unset or
// empty means enabled.
func parseAuth(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "true")
}

func profileThresholds(name ProfileName, t ThresholdOptions, envPrefix string, errs *ValidationErrors) Thresholds {
	d := defaultThresholds[name]

	if t.P95 != "" {
		v, err := ParseLatencyBound(t.P95)
		if err != nil {
			errs.Add(envPrefix+"P95", err.Error())
		}
		d.p95 = v
	}
	if t.P99 != "" {
		v, err := ParseLatencyBound(t.P99)
		if err != nil {
			errs.Add(envPrefix+"P99", err.Error())
		}
		d.p99 = v
	}
	if t.MaxFailureRate != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(t.MaxFailureRate), 64)
		if err != nil || v < 0 || v > 1 {
			errs.Add(envPrefix+"MAX_FAILURE_RATE", fmt.Sprintf("must be a number between 0 and 1, got %q", t.MaxFailureRate))
		}
		d.failureRate = v
	}

	return buildThresholds(d.p95, d.p99, d.failureRate)
}

// Validate validates the entire run configuration.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
func (c *RunConfig) Validate() error {
	errs := &ValidationErrors{}

	if c.BaseURL == "" {
		errs.Add("API_URL", "base URL is required")
	} else if u, err := url.Parse(c.BaseURL); err != nil {
		errs.Add("API_URL", fmt.Sprintf("invalid URL: %v", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("API_URL", fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}

	if c.AuthEnabled && c.Credentials.Email == "" {
		errs.Add("DEMO_EMAIL", "login email is required when auth is enabled")
	}

	if c.HTTP.Timeout <= 0 {
		errs.Add("HTTP_TIMEOUT", "must be greater than 0")
	}
	if c.HTTP.MaxIdleConnsPerHost < 0 {
		errs.Add("MAX_IDLE_CONNS_PER_HOST", "cannot be negative")
	}
	if c.ReadyTimeout < 0 {
		errs.Add("READY_TIMEOUT", "cannot be negative")
	}
	if c.ReadyTimeout > 0 && !strings.HasPrefix(c.ReadyPath, "/") {
		errs.Add("READY_PATH", "must start with /")
	}

	switch c.Log.Level {
	case "silent", "error", "warn", "info", "debug":
	default:
		errs.Add("LOG_LEVEL", fmt.Sprintf("invalid level %q (expected silent|error|warn|info|debug)", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs.Add("LOG_FORMAT", fmt.Sprintf("invalid format %q (expected text|json)", c.Log.Format))
	}

	if c.Prometheus.Enabled && !strings.HasPrefix(c.Prometheus.Path, "/") {
		errs.Add("PROMETHEUS_METRICS_PATH", "must start with /")
	}

	for _, name := range ProfileNames() {
		p, ok := c.Profiles[name]
		if !ok {
			errs.Add("profiles."+string(name), "profile is missing")
			continue
		}
		p.validate(errs)
	}

	return errs.Err()
}

// Profile returns the named profile.
func (c *RunConfig) Profile(name string) (*Profile, error) {
	p, ok := c.Profiles[ProfileName(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q (expected smoke|ramp|peak|soak)", name)
	}
	return p, nil
}

// Overrides are command-line adjustments applied on top of the
// environment. Zero values leave the configuration untouched.
type Overrides struct {
	BaseURL  string
	VUs      int
	Duration time.Duration
	Stages   []executor.Stage
	NoAuth   bool
}

// WithOverrides returns a validated copy of c with o applied to the named
// profile. Stages turn a constant-VU profile into a ramping one.
func (c *RunConfig) WithOverrides(name ProfileName, o Overrides) (*RunConfig, error) {
	cp := c.clone()

	p, ok := cp.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", name)
	}

	if o.BaseURL != "" {
		cp.BaseURL = strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	}
	if o.NoAuth {
		cp.AuthEnabled = false
	}

	if len(o.Stages) > 0 {
		if o.VUs > 0 || o.Duration > 0 {
			return nil, fmt.Errorf("--stages cannot be combined with --vus or --duration")
		}
		p.Executor = executor.TypeRampingVUs
		p.Stages = append([]executor.Stage(nil), o.Stages...)
		p.VUs = 0
		p.Duration = 0
	}
	if o.VUs > 0 || o.Duration > 0 {
		if p.Executor != executor.TypeConstantVUs {
			return nil, fmt.Errorf("profile %s is staged; use --stages instead of --vus/--duration", name)
		}
		if o.VUs > 0 {
			p.VUs = o.VUs
		}
		if o.Duration > 0 {
			p.Duration = o.Duration
		}
	}

	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return cp, nil
}

func (c *RunConfig) clone() *RunConfig {
	cp := *c
	cp.Profiles = make(map[ProfileName]*Profile, len(c.Profiles))
	for name, p := range c.Profiles {
		cp.Profiles[name] = p.clone()
	}
	return &cp
}
