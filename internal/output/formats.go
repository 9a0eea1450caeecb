package output

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/storeload/internal/load/runner"
)

// OutputFormat represents the available report formats
type OutputFormat string

const (
	// FormatText is the human-readable console summary
	FormatText OutputFormat = "text"
	// FormatJSON is the full result as JSON
	FormatJSON OutputFormat = "json"
	// FormatYAML is the full result as YAML, with the JSON field names
	FormatYAML OutputFormat = "yaml"
	// FormatJUnit reports each threshold as a test case for CI
	FormatJUnit OutputFormat = "junit"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatYAML, FormatJUnit:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected text|json|yaml|junit)", s)
	}
}

// FormatForPath picks a report format from a file extension. Unknown
// extensions get JSON.
func FormatForPath(path string) OutputFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".xml":
		return FormatJUnit
	case ".txt", ".log":
		return FormatText
	default:
		return FormatJSON
	}
}

// WriteReport writes result to w in the given format. Text reports are
// never colored.
func WriteReport(w io.Writer, format OutputFormat, result *runner.Result) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, result)
	case FormatYAML:
		return WriteYAML(w, result)
	case FormatJUnit:
		return WriteJUnit(w, result)
	case FormatText, "":
		NewConsoleOutput(ConsoleOutputConfig{Writer: w, NoColors: true}).PrintSummary(result)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteJSON writes result as indented JSON.
func WriteJSON(w io.Writer, result *runner.Result) error {
	if err := EncodeJSON(w, result); err != nil {
		return fmt.Errorf("failed to encode JSON report: %w", err)
	}
	return nil
}

// WriteYAML writes result as YAML.
func WriteYAML(w io.Writer, result *runner.Result) error {
	if err := EncodeYAML(w, result); err != nil {
		return fmt.Errorf("failed to encode YAML report: %w", err)
	}
	return nil
}

// EncodeJSON writes v as indented JSON.
func EncodeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// EncodeYAML writes v as block-style YAML. The document is built from the
// JSON encoding of v so both formats share field names.
func EncodeYAML(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	blockStyle(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle drops the flow and quoting styles JSON input carries so the
// encoder emits conventional block YAML.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, child := range n.Content {
		blockStyle(child)
	}
}

// JUnitTestSuites represents the root element containing all test suites
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite represents a JUnit test suite
type JUnitTestSuite struct {
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Time       float64         `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr"`
	Properties []JUnitProperty `xml:"properties>property,omitempty"`
	TestCases  []JUnitTestCase `xml:"testcase"`
	SystemOut  string          `xml:"system-out,omitempty"`
}

// JUnitProperty is a name/value pair attached to a suite.
type JUnitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// JUnitTestCase represents a JUnit test case
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Error     *JUnitFailure `xml:"error,omitempty"`
}

// JUnitFailure represents a JUnit test failure
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// JUnitReport converts result into a JUnit document with one test case per
// threshold.
func JUnitReport(result *runner.Result) *JUnitTestSuites {
	suiteName := "storeload." + string(result.Profile)
	suite := JUnitTestSuite{
		Name:      suiteName,
		Time:      result.Duration.Seconds(),
		Timestamp: result.StartTime.Format("2006-01-02T15:04:05Z07:00"),
		Properties: []JUnitProperty{
			{Name: "runId", Value: result.RunID},
			{Name: "baseUrl", Value: result.BaseURL},
			{Name: "executor", Value: string(result.Executor)},
			{Name: "maxVUs", Value: fmt.Sprint(result.MaxVUs)},
			{Name: "iterations", Value: fmt.Sprint(result.Iterations)},
		},
		TestCases: []JUnitTestCase{},
	}

	for _, t := range result.Thresholds {
		tc := JUnitTestCase{
			Name:      t.Expression,
			Classname: suiteName + "." + t.Metric,
		}
		if !t.Passed {
			tc.Failure = &JUnitFailure{
				Message: t.Message,
				Type:    "ThresholdFailed",
				Content: fmt.Sprintf("%s %s (actual: %s)", t.Metric, t.Expression, t.Value),
			}
			suite.Failures++
		}
		suite.TestCases = append(suite.TestCases, tc)
	}

	if result.Error != "" {
		suite.TestCases = append(suite.TestCases, JUnitTestCase{
			Name:      "run",
			Classname: suiteName,
			Time:      result.Duration.Seconds(),
			Error:     &JUnitFailure{Message: result.Error, Type: "RunError"},
		})
		suite.Errors++
	}
	suite.Tests = len(suite.TestCases)

	if result.Metrics != nil {
		suite.SystemOut = fmt.Sprintf("requests=%d failed=%d p95=%s p99=%s",
			result.Metrics.TotalRequests,
			result.Metrics.FailedRequests,
			result.Metrics.Latency.P95,
			result.Metrics.Latency.P99)
	}

	return &JUnitTestSuites{TestSuites: []JUnitTestSuite{suite}}
}

// WriteJUnit writes result as JUnit XML.
func WriteJUnit(w io.Writer, result *runner.Result) error {
	out, err := xml.MarshalIndent(JUnitReport(result), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JUnit report: %w", err)
	}
	if _, err := io.WriteString(w, xml.Header+string(out)+"\n"); err != nil {
		return err
	}
	return nil
}
