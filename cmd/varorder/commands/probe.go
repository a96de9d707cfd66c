package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/varorder/pkg/engine"
	"github.com/Sumatoshi-tech/varorder/pkg/observability"
)

// Probe report formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ErrUnknownFormat is returned for an unsupported --format value.
var ErrUnknownFormat = errors.New("unknown output format")

// ProbeCommand holds flags for the stand-alone runtime estimate.
type ProbeCommand struct {
	global    *GlobalOptions
	newSolver SolverFactory

	workload string
	format   string
	workers  int
}

// NewProbeCommand creates the probe command.
func NewProbeCommand(global *GlobalOptions) *cobra.Command {
	return newProbeCommandWithDeps(global, NewProcessSolver)
}

func newProbeCommandWithDeps(global *GlobalOptions, newSolver SolverFactory) *cobra.Command {
	pc := &ProbeCommand{global: global, newSolver: newSolver}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Estimate the run time of a workload",
		Long: `Run the lowest-id job of every problem once and extrapolate the wall time
of the whole workload over the configured number of workers.`,
		Args: cobra.NoArgs,
		RunE: pc.run,
	}

	cmd.Flags().StringVar(&pc.workload, "workload", "", "Workload DSN (sqlite path or mysql DSN)")
	cmd.Flags().StringVar(&pc.format, "format", FormatTable, "Output format: table, json, yaml")
	cmd.Flags().IntVar(&pc.workers, "workers", 0, "Workers to extrapolate over (0 = CPU count - 2)")

	return cmd
}

func (pc *ProbeCommand) run(cmd *cobra.Command, _ []string) error {
	switch pc.format {
	case FormatTable, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, pc.format)
	}

	cfg, err := pc.global.loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	overrideString(flags, "workload", &cfg.Workload.DSN, pc.workload)
	overrideInt(flags, "workers", &cfg.Engine.Workers, pc.workers)

	validateErr := cfg.Validate()
	if validateErr != nil {
		return validateErr
	}

	a, err := pc.global.start(cfg, observability.ModeProbe, false)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	solver, err := pc.newSolver(cfg.Solver, a.logger)
	if err != nil {
		return err
	}

	workers := cfg.Engine.Workers
	if workers == 0 {
		workers = engine.DefaultWorkers()
	}

	ctx, span := a.providers.Tracer.Start(cmd.Context(), "varorder.probe")
	defer span.End()

	report, err := engine.RunProbe(ctx, store, solver, workers, a.logger)
	if err != nil {
		return err
	}

	return renderProbeReport(cmd.OutOrStdout(), report, pc.format)
}

type probeEntryView struct {
	ProblemID      string  `json:"problem_id" yaml:"problem_id"`
	JobID          int64   `json:"job_id" yaml:"job_id"`
	Seconds        float64 `json:"seconds" yaml:"seconds"`
	JobCount       int64   `json:"job_count" yaml:"job_count"`
	EstimatedHours float64 `json:"estimated_hours" yaml:"estimated_hours"`
	Error          string  `json:"error,omitempty" yaml:"error,omitempty"`
}

type probeReportView struct {
	Workers    int              `json:"workers" yaml:"workers"`
	Entries    []probeEntryView `json:"entries" yaml:"entries"`
	Seconds    float64          `json:"total_seconds" yaml:"total_seconds"`
	TotalHours float64          `json:"total_hours" yaml:"total_hours"`
}

func newProbeReportView(r engine.ProbeReport) probeReportView {
	view := probeReportView{
		Workers:    r.Workers,
		Entries:    make([]probeEntryView, len(r.Entries)),
		Seconds:    r.Total.Seconds(),
		TotalHours: r.TotalHours,
	}

	for i, e := range r.Entries {
		view.Entries[i] = probeEntryView{
			ProblemID:      e.ProblemID,
			JobID:          e.JobID,
			Seconds:        e.Duration.Seconds(),
			JobCount:       e.JobCount,
			EstimatedHours: e.EstimatedHours,
			Error:          e.Error,
		}
	}

	return view
}

func renderProbeReport(w io.Writer, report engine.ProbeReport, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(newProbeReportView(report))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()

		return enc.Encode(newProbeReportView(report))
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Problem", "Job", "Duration", "Jobs", "Est. hours", "Error"})

	for _, e := range report.Entries {
		tbl.AppendRow(table.Row{
			e.ProblemID,
			e.JobID,
			e.Duration.Round(time.Millisecond),
			humanize.Comma(e.JobCount),
			fmt.Sprintf("%.2f", e.EstimatedHours),
			e.Error,
		})
	}

	tbl.AppendFooter(table.Row{
		fmt.Sprintf("Total (%d workers)", report.Workers), "", report.Total.Round(time.Millisecond), "",
		fmt.Sprintf("%.2f", report.TotalHours), "",
	})
	tbl.Render()

	return nil
}
