package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rwsmith7531/reproducibility-study/pkg/rdf"
)

func newRootCmd() *cobra.Command {
	r := &rdf.RDF{}
	var plot bool

	cmd := &cobra.Command{
		Use:   "rdf <trajectory>",
		Short: "Radial distribution function of a Lammps Trajectory",
		Long: `rdf computes g(r) over all the atoms of a Lammps Trajectory and writes it
into <trajectory>_rdf.out, one "r g(r)" pair per line.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer log.Sync()

			r.Traj = args[0]
			r.Out = fmt.Sprint(r.Traj, "_rdf.out")

			log.Info("Calculating the radial distribution function",
				zap.String("traj", r.Traj),
				zap.Float64("rMax", r.RMax),
				zap.Int("bins", r.Bins))
			if err := r.Perform(); err != nil {
				return err
			}
			if err := r.Write(); err != nil {
				return err
			}

			if plot {
				m, err := rdf.Average([]*rdf.RDF{r})
				if err != nil {
					return err
				}
				png := strings.TrimSuffix(r.Traj, filepath.Ext(r.Traj)) + "_rdf.png"
				if err := m.Plot(png, filepath.Base(r.Traj)); err != nil {
					return err
				}
			}

			log.Info("Done", zap.String("out", r.Out), zap.Int("frames", r.Frames))
			return nil
		},
	}

	cmd.Flags().Float64Var(&r.RMax, "rmax", 12, "Largest distance, at most half of the box")
	cmd.Flags().IntVar(&r.Bins, "bins", 120, "Number of bins")
	cmd.Flags().IntVar(&r.Start, "start", 0, "First frame")
	cmd.Flags().IntVar(&r.End, "end", 0, "Frame after the last one, 0 reads until the end")
	cmd.Flags().BoolVar(&plot, "plot", false, "Also write a PNG figure")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
