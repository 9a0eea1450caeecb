package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultEnvFiles are loaded, when present, before the environment is parsed.
var DefaultEnvFiles = []string{".env", ".env.local"}

// ThresholdOptions override one profile's default thresholds. Latency
// bounds accept Go durations or bare milliseconds.
type ThresholdOptions struct {
	P95            string `env:"P95"`
	P99            string `env:"P99"`
	MaxFailureRate string `env:"MAX_FAILURE_RATE"`
}

type HTTPOptions struct {
	Timeout             string `env:"HTTP_TIMEOUT" envDefault:"30s"`
	MaxIdleConnsPerHost int    `env:"MAX_IDLE_CONNS_PER_HOST" envDefault:"100"`
	InsecureSkipVerify  bool   `env:"INSECURE_SKIP_VERIFY" envDefault:"false"`
}

type LogOptions struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Listen  string `env:"PROMETHEUS_LISTEN" envDefault:":9464"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/metrics"`
}

// Environment is the raw key/value configuration. Durations stay strings
// until Build so that bare integer seconds are accepted.
type Environment struct {
	APIURL   string `env:"API_URL" envDefault:"http://localhost:8091"`
	Email    string `env:"DEMO_EMAIL" envDefault:"customer@practicesoftwaretesting.com"`
	Password string `env:"DEMO_PASSWORD" envDefault:"welcome01"`
	Auth     string `env:"AUTH" envDefault:"true"`

	// 0 seeds from the clock
	Seed int64 `env:"SEED" envDefault:"0"`

	// smoke
	VUs      int    `env:"VUS" envDefault:"10"`
	Duration string `env:"DURATION" envDefault:"1m"`

	// ramp
	RampUp     string `env:"RAMP_UP" envDefault:"2m"`
	RampTarget int    `env:"RAMP_TARGET" envDefault:"25"`
	RampHold   string `env:"RAMP_HOLD" envDefault:"3m"`
	RampDown   string `env:"RAMP_DOWN" envDefault:"1m"`

	// peak
	PeakRampUp   string `env:"PEAK_RAMP_UP" envDefault:"15s"`
	PeakVUs      int    `env:"PEAK_VUS" envDefault:"50"`
	PeakHold     string `env:"PEAK_HOLD" envDefault:"60s"`
	PeakRampDown string `env:"PEAK_RAMP_DOWN" envDefault:"30s"`

	// soak
	SoakVUs      int    `env:"SOAK_VUS" envDefault:"10"`
	SoakDuration string `env:"SOAK_DURATION" envDefault:"30m"`

	SmokeThresholds ThresholdOptions `envPrefix:"SMOKE_"`
	RampThresholds  ThresholdOptions `envPrefix:"RAMP_"`
	PeakThresholds  ThresholdOptions `envPrefix:"PEAK_"`
	SoakThresholds  ThresholdOptions `envPrefix:"SOAK_"`

	GracefulRampDown string `env:"GRACEFUL_RAMP_DOWN" envDefault:"30s"`
	GracefulStop     string `env:"GRACEFUL_STOP" envDefault:"30s"`

	ReadyTimeout string `env:"READY_TIMEOUT" envDefault:"0"`
	ReadyPath    string `env:"READY_PATH" envDefault:"/products"`

	HistoryDB string `env:"HISTORY_DB"`

	HTTP       HTTPOptions
	Log        LogOptions
	Prometheus PrometheusOptions
}

// LoadEnv loads whichever of envFiles exist into the process environment.
// Variables already set are not overridden. It returns how many files
// were loaded.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		} else if !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("env file %s: %w", file, err)
		}
	}

	if len(existing) == 0 {
		return 0, nil
	}

	return len(existing), godotenv.Load(existing...)
}

// Load reads envFiles and the process environment into a RunConfig.
func Load(envFiles []string) (*RunConfig, error) {
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, err
	}

	var e Environment
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return Build(&e)
}

// FromEnvironment builds a RunConfig from vars alone, ignoring the
// process environment.
func FromEnvironment(vars map[string]string) (*RunConfig, error) {
	if vars == nil {
		vars = map[string]string{}
	}

	var e Environment
	if err := env.ParseWithOptions(&e, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return Build(&e)
}
