package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/storeload/internal/config"
	"github.com/wesleyorama2/storeload/internal/load"
	"github.com/wesleyorama2/storeload/internal/load/executor"
	"github.com/wesleyorama2/storeload/internal/output"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles [profile...]",
	Short: "Show the resolved load profiles",
	Long: `Show the load profiles as they would run after the environment, the
--profiles overlay and the defaults have been applied.`,
	RunE: showProfiles,
}

// profileView is the printable form of a profile. Durations are rendered
// as Go duration strings.
type profileView struct {
	Name             config.ProfileName   `json:"name"`
	Executor         executor.Type        `json:"executor"`
	VUs              int                  `json:"vus,omitempty"`
	Duration         string               `json:"duration,omitempty"`
	Stages           string               `json:"stages,omitempty"`
	MaxVUs           int                  `json:"maxVUs"`
	TotalDuration    string               `json:"totalDuration"`
	Login            config.LoginMode     `json:"login"`
	Selection        load.SelectionPolicy `json:"selection"`
	Pacing           map[string]string    `json:"pacing"`
	Thresholds       config.Thresholds    `json:"thresholds"`
	GracefulRampDown string               `json:"gracefulRampDown"`
	GracefulStop     string               `json:"gracefulStop"`
}

type profilesView struct {
	BaseURL     string        `json:"baseUrl"`
	AuthEnabled bool          `json:"authEnabled"`
	Profiles    []profileView `json:"profiles"`
}

func newProfileView(p *config.Profile) profileView {
	v := profileView{
		Name:             p.Name,
		Executor:         p.Executor,
		VUs:              p.VUs,
		MaxVUs:           p.MaxVUs(),
		TotalDuration:    p.TotalDuration().String(),
		Login:            p.Login,
		Selection:        p.Selection,
		Thresholds:       p.Thresholds,
		GracefulRampDown: p.GracefulRampDown.String(),
		GracefulStop:     p.GracefulStop.String(),
		Pacing: map[string]string{
			"afterCatalog":            formatRange(p.Pacing.AfterCatalog),
			"afterLists":              formatRange(p.Pacing.AfterLists),
			"beforeDetail":            formatRange(p.Pacing.BeforeDetail),
			"betweenDetailAndRelated": formatRange(p.Pacing.BetweenDetailAndRelated),
			"beforeAuth":              formatRange(p.Pacing.BeforeAuth),
			"final":                   formatRange(p.Pacing.Final),
		},
	}
	if p.Duration > 0 {
		v.Duration = p.Duration.String()
	}
	if len(p.Stages) > 0 {
		v.Stages = config.FormatStages(p.Stages)
	}
	return v
}

func formatRange(r load.Range) string {
	if r.Min == r.Max {
		return r.Min.String()
	}
	return r.Min.String() + "-" + r.Max.String()
}

func showProfiles(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	names := args
	if len(names) == 0 {
		names = profileArgs()
	}

	view := profilesView{BaseURL: cfg.BaseURL, AuthEnabled: cfg.AuthEnabled}
	for _, name := range names {
		p, err := cfg.Profile(name)
		if err != nil {
			return err
		}
		view.Profiles = append(view.Profiles, newProfileView(p))
	}

	out := cmd.OutOrStdout()
	switch strings.ToLower(format) {
	case "json":
		return output.EncodeJSON(out, view)
	case "yaml", "yml":
		return output.EncodeYAML(out, view)
	case "", "text", "table":
		return printProfileTable(out, view)
	default:
		return fmt.Errorf("unknown format %q (expected table|json|yaml)", format)
	}
}

func printProfileTable(w io.Writer, view profilesView) error {
	fmt.Fprintf(w, "Target: %s (auth %s)\n\n", view.BaseURL, onOff(view.AuthEnabled))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROFILE\tEXECUTOR\tSHAPE\tMAX VUS\tDURATION\tLOGIN\tSELECTION\tTHRESHOLDS")
	for _, p := range view.Profiles {
		shape := fmt.Sprintf("%d VUs for %s", p.VUs, p.Duration)
		if p.Stages != "" {
			shape = p.Stages
		}
		thresholds := append(append(append([]string(nil),
			p.Thresholds.HTTPReqDuration...),
			p.Thresholds.HTTPReqFailed...),
			p.Thresholds.HTTPReqs...)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			p.Name, p.Executor, shape, p.MaxVUs, p.TotalDuration,
			p.Login, p.Selection, strings.Join(thresholds, ", "))
	}
	return tw.Flush()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func init() {
	profilesCmd.Flags().StringP("format", "f", "table", "Output format (table, json, yaml)")
}
