package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/storeload/internal/load"
	"github.com/wesleyorama2/storeload/internal/load/executor"
)

//go:embed overlay.schema.json
var overlaySchemaSource string

var compileOverlaySchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("overlay.schema.json", strings.NewReader(overlaySchemaSource)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return compiler.Compile("overlay.schema.json")
})

// Overlay adjusts built-in profiles from a YAML or JSON file.
//
// Example YAML:
//
//	profiles:
//	  peak:
//	    stages:
//	      - duration: 10s
//	        target: 100
//	      - duration: 30s
//	        target: 100
//	      - duration: 10s
//	        target: 0
//	    thresholds:
//	      http_req_duration: ["p95 < 2s"]
//	    pacing:
//	      final: {min: 50ms, max: 500ms}
//	      beforeAuth: null
type Overlay struct {
	Profiles map[ProfileName]ProfileOverlay `yaml:"profiles"`
}

// ProfileOverlay holds the fields of one profile that a file may set.
// Unset fields keep the environment's values.
type ProfileOverlay struct {
	Executor         string                   `yaml:"executor"`
	VUs              int                      `yaml:"vus"`
	Duration         string                   `yaml:"duration"`
	Stages           []StageOverlay           `yaml:"stages"`
	Login            string                   `yaml:"login"`
	Selection        string                   `yaml:"selection"`
	GracefulRampDown string                   `yaml:"gracefulRampDown"`
	GracefulStop     string                   `yaml:"gracefulStop"`
	Thresholds       *Thresholds              `yaml:"thresholds"`
	Pacing           map[string]*RangeOverlay `yaml:"pacing"`
}

type StageOverlay struct {
	Duration string `yaml:"duration"`
	Target   int    `yaml:"target"`
	Name     string `yaml:"name"`
}

type RangeOverlay struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

// ParseOverlay validates data against the overlay schema and decodes it.
func ParseOverlay(data []byte) (*Overlay, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse profile overlay: %w", err)
	}

	// The validator wants JSON-shaped values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile overlay: %w", err)
	}
	var jsonDoc interface{}
	if err := json.Unmarshal(raw, &jsonDoc); err != nil {
		return nil, fmt.Errorf("failed to parse profile overlay: %w", err)
	}

	schema, err := compileOverlaySchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(jsonDoc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			errs := &ValidationErrors{}
			collectSchemaErrors(ve, errs)
			return nil, errs
		}
		return nil, err
	}

	var overlay Overlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to decode profile overlay: %w", err)
	}
	return &overlay, nil
}

// collectSchemaErrors flattens the leaf causes of a schema failure.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		field := strings.TrimPrefix(strings.ReplaceAll(err.InstanceLocation, "/", "."), ".")
		errs.Add(field, err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}

// LoadOverlay reads path and applies it to c.
func (c *RunConfig) LoadOverlay(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile overlay: %w", err)
	}
	overlay, err := ParseOverlay(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c.ApplyOverlay(overlay)
}

// ApplyOverlay returns a validated copy of c with overlay merged in.
func (c *RunConfig) ApplyOverlay(overlay *Overlay) (*RunConfig, error) {
	cp := c.clone()
	errs := &ValidationErrors{}

	for name, po := range overlay.Profiles {
		p, ok := cp.Profiles[name]
		if !ok {
			errs.Add("profiles."+string(name), "unknown profile")
			continue
		}
		po.apply(p, errs)
	}

	if errs.HasErrors() {
		return nil, errs
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return cp, nil
}

func (po ProfileOverlay) apply(p *Profile, errs *ValidationErrors) {
	prefix := "profiles." + string(p.Name)

	parse := func(field, value string) (time.Duration, bool) {
		if value == "" {
			return 0, false
		}
		v, err := ParseDurationString(value)
		if err != nil {
			errs.Add(prefix+"."+field, err.Error())
			return 0, false
		}
		return v, true
	}

	if len(po.Stages) > 0 {
		p.Executor = executor.TypeRampingVUs
		p.Stages = make([]executor.Stage, 0, len(po.Stages))
		for i, s := range po.Stages {
			d, _ := parse(fmt.Sprintf("stages[%d].duration", i), s.Duration)
			p.Stages = append(p.Stages, executor.Stage{Duration: d, Target: s.Target, Name: s.Name})
		}
	}
	if po.Executor != "" {
		p.Executor = executor.Type(po.Executor)
	}
	if po.VUs > 0 {
		p.VUs = po.VUs
	}
	if d, ok := parse("duration", po.Duration); ok {
		p.Duration = d
	}
	if po.Login != "" {
		p.Login = LoginMode(po.Login)
	}
	if po.Selection != "" {
		p.Selection = load.SelectionPolicy(po.Selection)
	}
	if d, ok := parse("gracefulRampDown", po.GracefulRampDown); ok {
		p.GracefulRampDown = d
	}
	if d, ok := parse("gracefulStop", po.GracefulStop); ok {
		p.GracefulStop = d
	}
	if po.Thresholds != nil {
		if po.Thresholds.HTTPReqDuration != nil {
			p.Thresholds.HTTPReqDuration = po.Thresholds.HTTPReqDuration
		}
		if po.Thresholds.HTTPReqFailed != nil {
			p.Thresholds.HTTPReqFailed = po.Thresholds.HTTPReqFailed
		}
		if po.Thresholds.HTTPReqs != nil {
			p.Thresholds.HTTPReqs = po.Thresholds.HTTPReqs
		}
	}

	for slot, r := range po.Pacing {
		target := pacingSlot(&p.Pacing, slot)
		if target == nil {
			errs.Add(prefix+".pacing."+slot, "unknown pacing slot")
			continue
		}
		if r == nil {
			*target = load.Range{}
			continue
		}
		minD, _ := parse("pacing."+slot+".min", r.Min)
		maxD, _ := parse("pacing."+slot+".max", r.Max)
		*target = load.Range{Min: minD, Max: maxD}
	}
}

func pacingSlot(plan *load.PacingPlan, name string) *load.Range {
	switch name {
	case "afterCatalog":
		return &plan.AfterCatalog
	case "afterLists":
		return &plan.AfterLists
	case "beforeDetail":
		return &plan.BeforeDetail
	case "betweenDetailAndRelated":
		return &plan.BetweenDetailAndRelated
	case "beforeAuth":
		return &plan.BeforeAuth
	case "final":
		return &plan.Final
	default:
		return nil
	}
}
