package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rwsmith7531/reproducibility-study/pkg/analysis"
	"github.com/rwsmith7531/reproducibility-study/pkg/cfg"
	"github.com/rwsmith7531/reproducibility-study/pkg/project"
)

func newLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		root    string
		output  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "analysis",
		Short: "Aggregate the density of every condition of a signac project",
		Long: `analysis reads the production run logs of every job of the project, groups
the jobs by molecule, ensemble, temperature, pressure, cutoff style and long
range correction, and writes one density_results.txt per group.

The output directory is removed and recreated on every run. Without a
--config flag, analysis.yaml is read from the current directory if present.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer log.Sync()

			c, err := cfg.Load(".", cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cmd.Flags().Changed("project") {
				c.Project = root
			}
			if cmd.Flags().Changed("output") {
				c.Output = output
			}
			if err := c.Check(); err != nil {
				return fmt.Errorf("config: %w", err)
			}

			log.Info("Loading project", zap.String("root", c.Project))
			jobs, err := project.Load(c.Project, log)
			if err != nil {
				return err
			}

			p, err := analysis.New(c, log)
			if err != nil {
				return err
			}

			results, err := p.Run(jobs)
			if err != nil {
				return err
			}

			var written int
			for _, r := range results {
				if r.Density != nil {
					written++
				}
			}
			log.Info("Done",
				zap.String("output", p.Output),
				zap.Int("groups", len(results)),
				zap.Int("densityReports", written))
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "Configuration file (YAML)")
	cmd.Flags().StringVar(&root, "project", ".", "Project root directory")
	cmd.Flags().StringVar(&output, "output", "analysis_data", "Output directory, recreated on every run")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
