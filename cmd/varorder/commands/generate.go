package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/varorder/pkg/generate"
	"github.com/Sumatoshi-tech/varorder/pkg/observability"
)

// GenerateCommand holds flags for the generation pass.
type GenerateCommand struct {
	global *GlobalOptions

	features      string
	workload      string
	budget        int
	sampleWorkers int
	cutoffExcess  bool
	verify        bool
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(global *GlobalOptions) *cobra.Command {
	gc := &GenerateCommand{global: global}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Sample variable orderings and store them as jobs",
		Long: `Read feature vectors from a JSON-lines file, sample up to --budget
orderings of each problem's search variables and append them to the workload.`,
		Args: cobra.NoArgs,
		RunE: gc.run,
	}

	cmd.Flags().StringVar(&gc.features, "features", "", "Feature vector JSON-lines file")
	cmd.Flags().StringVar(&gc.workload, "workload", "", "Workload DSN (sqlite path or mysql DSN)")
	cmd.Flags().IntVar(&gc.budget, "budget", 0, "Maximum orderings per problem")
	cmd.Flags().IntVar(&gc.sampleWorkers, "sample-workers", 0, "Sampler goroutines (0 = CPU count)")
	cmd.Flags().BoolVar(&gc.cutoffExcess, "cutoff-excess", false, "Cap every problem at exactly --budget orderings")
	cmd.Flags().BoolVar(&gc.verify, "verify", false, "Check every substituted encoding before storing it")

	return cmd
}

func (gc *GenerateCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := gc.global.loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	overrideString(flags, "features", &cfg.Generate.Features, gc.features)
	overrideString(flags, "workload", &cfg.Workload.DSN, gc.workload)
	overrideInt(flags, "budget", &cfg.Generate.Budget, gc.budget)
	overrideInt(flags, "sample-workers", &cfg.Generate.SampleWorkers, gc.sampleWorkers)
	overrideBool(flags, "cutoff-excess", &cfg.Generate.CutoffExcess, gc.cutoffExcess)
	overrideBool(flags, "verify", &cfg.Generate.Verify, gc.verify)

	validateErr := cfg.Validate()
	if validateErr != nil {
		return validateErr
	}

	if cfg.Generate.Features == "" {
		return fmt.Errorf("%w: --features", ErrMissingFlag)
	}

	a, err := gc.global.start(cfg, observability.ModeGenerate, false)
	if err != nil {
		return err
	}
	defer a.close()

	reader, err := generate.NewFeatureReader()
	if err != nil {
		return err
	}

	f, err := os.Open(cfg.Generate.Features)
	if err != nil {
		return fmt.Errorf("open features: %w", err)
	}
	defer f.Close()

	fvs, err := reader.Read(f)
	if err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	gen := generate.New(store, generate.Options{
		Budget:        cfg.Generate.Budget,
		CutoffExcess:  cfg.Generate.CutoffExcess,
		SampleWorkers: cfg.Generate.SampleWorkers,
		Verify:        cfg.Generate.Verify,
	}, a.logger, a.providers.Tracer, a.metrics)

	report, err := gen.Run(cmd.Context(), fvs)
	if err != nil {
		return err
	}

	if !gc.global.Quiet {
		renderGenerateReport(cmd.OutOrStdout(), report)
	}

	return nil
}

func renderGenerateReport(w io.Writer, report generate.Report) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Problem", "Variables", "Orderings", "Jobs", "First ID", "Status"})

	for _, e := range report.Entries {
		status := "generated"
		if e.Skipped {
			status = "skipped"
		}

		tbl.AppendRow(table.Row{
			e.ProblemID,
			e.Variables,
			humanize.BigComma(e.Space),
			humanize.Comma(int64(e.Jobs)),
			e.FirstID,
			status,
		})
	}

	tbl.AppendFooter(table.Row{
		fmt.Sprintf("Total: %d problems", len(report.Entries)), "", "", humanize.Comma(report.Jobs), report.NextID, "",
	})
	tbl.Render()
}
