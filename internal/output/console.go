// Package output renders live progress and final reports of load runs.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/storeload/internal/load/runner"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

// Box drawing and progress bar characters
const (
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
	CurrentStage int // 1-indexed, 0 before the first stage
	StageName    string
	TotalStages  int
}

// ConsoleOutput manages console output during and after a run.
type ConsoleOutput struct {
	title         string
	executorType  string
	totalDuration time.Duration
	writer        io.Writer
	isTTY         bool
	colors        *ColorScheme
	quiet         bool

	mu          sync.Mutex
	linesOutput int
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	Title         string
	ExecutorType  string
	TotalDuration time.Duration
	Writer        io.Writer
	Quiet         bool
	ForceColors   bool
	NoColors      bool
	ForceTTY      bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || IsTerminal(config.Writer)

	colors := NoColorScheme()
	switch {
	case config.NoColors:
	case config.ForceColors:
		colors = ForcedColorScheme()
	case isTTY && supportsColors():
		colors = DefaultColorScheme()
	}

	return &ConsoleOutput{
		title:         config.Title,
		executorType:  config.ExecutorType,
		totalDuration: config.TotalDuration,
		writer:        config.Writer,
		isTTY:         isTTY,
		colors:        colors,
		quiet:         config.Quiet,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	executorInfo := ""
	if c.executorType != "" {
		executorInfo = fmt.Sprintf(" [%s]", c.executorType)
	}

	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(c.colors.Title.Sprintf("%s - Running%s", c.title, executorInfo))
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln("")
}

// Progress renders p, redrawing in place on a terminal and printing one
// line per update otherwise.
func (c *ConsoleOutput) Progress(p runner.Progress) {
	stats := StatsFromProgress(p, c.totalDuration)
	if c.isTTY {
		c.Update(stats)
	} else {
		c.PrintNonInteractiveUpdate(stats)
	}
}

// Update updates the live display with new statistics.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// clearLive erases the previous live block. Callers hold c.mu.
func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	var lines []string
	cs := c.colors

	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		cs.Success.Sprint(renderProgressBar(stats.Progress, 40)),
		cs.Title.Sprintf("%.0f%%", stats.Progress*100),
		cs.Dim.Sprint(timeInfo)))

	phaseInfo := stats.CurrentPhase
	if stats.TotalStages > 0 && stats.CurrentStage > 0 {
		phaseInfo = fmt.Sprintf("%s (%d/%d)", stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
		if stats.StageName != "" {
			phaseInfo += " " + stats.StageName
		}
	}
	lines = append(lines, fmt.Sprintf("Stage:    %s", cs.Phase.Sprint(phaseInfo)))
	lines = append(lines, "")

	boxWidth := 55
	lines = append(lines, cs.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vusStr := fmt.Sprintf("VUs:     %s / %d", cs.Value.Sprint(stats.ActiveVUs), stats.TargetVUs)
	reqsStr := fmt.Sprintf("Requests:    %s", cs.Value.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(vusStr, reqsStr, boxWidth))

	errColor := cs.rate(stats.ErrorRate)
	rpsStr := fmt.Sprintf("RPS:     %s", cs.Success.Sprintf("%.1f", stats.CurrentRPS))
	errStr := fmt.Sprintf("Errors:      %s (%s)",
		errColor.Sprint(stats.Errors),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rpsStr, errStr, boxWidth))

	p95Str := fmt.Sprintf("P95:     %s", cs.Latency.Sprint(formatDurationShort(stats.LatencyP95)))
	avgStr := fmt.Sprintf("Avg:         %s", cs.Latency.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p95Str, avgStr, boxWidth))

	lines = append(lines, cs.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))

	return lines
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *ConsoleOutput) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2 // 2 borders + 2 padding

	leftPadding := colWidth - visibleLen(left)
	if leftPadding < 0 {
		leftPadding = 0
	}
	rightPadding := colWidth - visibleLen(right)
	if rightPadding < 0 {
		rightPadding = 0
	}

	bar := c.colors.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		bar,
		left, strings.Repeat(" ", leftPadding),
		bar,
		right, strings.Repeat(" ", rightPadding),
		bar)
}

// PrintNonInteractiveUpdate prints a one-line status update for logs and
// CI output.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %s | Progress: %.0f%% | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.CurrentPhase,
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TargetVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the final run report.
func (c *ConsoleOutput) PrintSummary(result *runner.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs := c.colors

	if c.quiet {
		if result.Passed {
			c.writeln(cs.Success.Sprint("PASSED"))
		} else {
			c.writeln(cs.Error.Sprint("FAILED"))
		}
		return
	}

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(boxHorizontal, 56)
	status := cs.Success.Sprint("Completed ✓")
	switch {
	case !result.Passed:
		status = cs.Error.Sprint("Failed ✗")
	case result.Interrupted:
		status = cs.Warning.Sprint("Interrupted ⚠")
	}

	c.writeln("")
	c.writeln(cs.Rule.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", cs.Title.Sprint(result.Profile), status))
	c.writeln(cs.Rule.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", cs.Dim.Sprint(result.RunID)))
	c.writeln(fmt.Sprintf("Target:        %s", cs.Value.Sprint(result.BaseURL)))
	c.writeln(fmt.Sprintf("Executor:      %s", cs.Value.Sprint(result.Executor)))
	auth := "disabled"
	if result.AuthEnabled {
		auth = string(result.Login) + " login"
	}
	c.writeln(fmt.Sprintf("Auth:          %s", cs.Value.Sprint(auth)))
	c.writeln(fmt.Sprintf("Duration:      %s %s",
		cs.Value.Sprint(formatDuration(result.Duration)),
		cs.Dim.Sprintf("(planned %s)", formatDuration(result.PlannedDuration))))
	c.writeln(fmt.Sprintf("Max VUs:       %s", cs.Value.Sprint(result.MaxVUs)))
	c.writeln(fmt.Sprintf("Iterations:    %s", cs.Value.Sprint(formatNumber(result.Iterations))))
	if result.ForcedStops > 0 {
		c.writeln(fmt.Sprintf("Forced stops:  %s", cs.Warning.Sprint(result.ForcedStops)))
	}

	if m := result.Metrics; m != nil {
		c.writeln(fmt.Sprintf("Total Reqs:    %s", cs.Value.Sprint(formatNumber(m.TotalRequests))))
		c.writeln(fmt.Sprintf("Success Rate:  %s", cs.rate(m.ErrorRate).Sprintf("%.1f%%", (1-m.ErrorRate)*100)))
		c.writeln(fmt.Sprintf("Throughput:    %s", cs.Value.Sprintf("%.1f req/s", m.RPS)))
		c.writeln(fmt.Sprintf("Received:      %s", cs.Value.Sprint(formatBytes(m.TotalBytes))))
		c.writeln("")

		c.writeln(cs.Label.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(m.Latency.Min)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(m.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(m.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(m.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(m.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(m.Latency.Max)))
	}
	c.writeln("")

	if len(result.Calls) > 0 {
		c.writeln(cs.Label.Sprint("Requests:"))
		c.writeln(cs.Dim.Sprintf("  %-28s %9s %7s %9s %9s %9s", "NAME", "REQS", "FAILED", "P50", "P95", "P99"))
		for _, call := range result.Calls {
			failed := fmt.Sprintf("%7d", call.Failures)
			if call.Failures > 0 {
				failed = cs.Error.Sprint(failed)
			}
			c.writeln(fmt.Sprintf("  %-28s %9s %s %9s %9s %9s",
				call.Name,
				formatNumber(call.Requests),
				failed,
				formatDurationShort(call.Latency.P50),
				formatDurationShort(call.Latency.P95),
				formatDurationShort(call.Latency.P99)))
		}
		c.writeln("")
	}

	if len(result.Thresholds) > 0 {
		c.writeln(cs.Label.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			icon := cs.Success.Sprint("✓")
			if !t.Passed {
				icon = cs.Error.Sprint("✗")
			}
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", icon, t.Metric, t.Expression, t.Value))
		}
		c.writeln("")
	}

	if result.Error != "" {
		c.writeln(fmt.Sprintf("%s %s", cs.Error.Sprint("Error:"), result.Error))
		c.writeln("")
	}
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromProgress converts a runner progress report into LiveStats.
func StatsFromProgress(p runner.Progress, totalDuration time.Duration) *LiveStats {
	stats := &LiveStats{
		Progress:     p.Fraction,
		CurrentPhase: "initializing",
	}
	if p.Stats != nil {
		stats.TargetVUs = p.Stats.TargetVUs
		stats.ActiveVUs = p.Stats.ActiveVUs
		stats.TotalStages = p.Stats.TotalStages
		stats.CurrentStage = p.Stats.CurrentStage + 1
		stats.StageName = p.Stats.CurrentStageName
		if p.Stats.TotalDuration > 0 {
			totalDuration = p.Stats.TotalDuration
		}
	}

	m := p.Metrics
	if m == nil {
		return stats
	}

	stats.Elapsed = m.Elapsed
	if p.Fraction > 0 && p.Fraction < 1 {
		stats.Remaining = time.Duration(float64(m.Elapsed) * (1 - p.Fraction) / p.Fraction)
	} else if totalDuration > m.Elapsed {
		stats.Remaining = totalDuration - m.Elapsed
	}

	stats.CurrentRPS = m.RPS
	stats.TotalRequests = m.TotalRequests
	stats.Errors = m.FailedRequests
	stats.ErrorRate = m.ErrorRate
	stats.LatencyP95 = m.Latency.P95
	stats.LatencyAvg = m.Latency.Mean
	stats.CurrentPhase = string(m.CurrentPhase)
	return stats
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// visibleLen is the printed width of s, ignoring ANSI escape sequences.
func visibleLen(s string) int {
	return len([]rune(stripANSI(s)))
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}

	return result.String()
}
