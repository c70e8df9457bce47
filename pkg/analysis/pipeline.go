// Package analysis aggregates the jobs of a project by physical condition and
// writes one report per condition.
//
// The output root is a derived cache: it is removed and recreated on every
// run, then receives one directory per group (see Key.Dir) holding
// DensityFile for NPT groups and, when enabled, the averaged RDF. All paths are
// explicit; the working directory of the process is never changed.
package analysis

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/rwsmith7531/reproducibility-study/pkg/cfg"
	"github.com/rwsmith7531/reproducibility-study/pkg/density"
	"github.com/rwsmith7531/reproducibility-study/pkg/project"
	"github.com/rwsmith7531/reproducibility-study/pkg/rdf"
)

// Files written in each group directory.
const (
	DensityFile = "density_results.txt"
	RDFFile     = "rdf_results.txt"
	RDFPlot     = "rdf.png"
)

// ErrEnsembleNotSupported is the condition of an analysis that is recognized
// for an ensemble but not implemented.
var ErrEnsembleNotSupported = errors.New("ensemble not supported")

// ErrOutputOverlapsInput is returned by Run when removing the output root
// would remove the project or one of its jobs.
var ErrOutputOverlapsInput = errors.New("output contains the project")

// Result describes what was done for one group. Density is nil and
// DensitySkipped is set when the ensemble has no density analysis; the same
// holds for RDF.
type Result struct {
	Key  Key
	Dir  string
	Jobs int

	Density        *Summary
	DensitySkipped error

	RDF        *rdf.Mean
	RDFSkipped error
}

// Pipeline holds the parameters of the aggregation.
type Pipeline struct {
	// Output is the root receiving the group directories
	Output string

	// Project is the root of the project the jobs come from. Output may not
	// be Project nor one of its ancestors
	Project string

	Density      *density.Extractor
	MinProdFiles int

	// RDF is nil when the RDF analysis is disabled
	RDF *cfg.RDF

	// Index is nil when no SQLite index is written
	Index *Index

	Log *zap.Logger
}

// New returns the Pipeline described by c. The output root is made absolute.
func New(c *cfg.Cfg, log *zap.Logger) (*Pipeline, error) {
	out, err := filepath.Abs(c.Output)
	if err != nil {
		return nil, err
	}

	proj, err := filepath.Abs(c.Project)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Output:  out,
		Project: proj,
		Density: &density.Extractor{
			Pattern: c.ProdPattern,
			Label:   c.DensityLabel,
			Field:   c.DensityField,
		},
		MinProdFiles: c.MinProdFiles,
		Log:          log,
	}
	if c.RDF.Enabled() {
		r := c.RDF
		p.RDF = &r
	}
	if c.Index != "" {
		p.Index = &Index{Path: c.Index}
	}
	return p, nil
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// checkOutput refuses an output root that holds the project or a job.
func (p *Pipeline) checkOutput(jobs []project.Job) error {
	out, err := filepath.Abs(p.Output)
	if err != nil {
		return err
	}

	if p.Project != "" && within(p.Project, out) {
		return fmt.Errorf("%w: %s is below %s", ErrOutputOverlapsInput, p.Project, out)
	}
	for _, j := range jobs {
		dir, err := filepath.Abs(j.Dir)
		if err != nil {
			return err
		}
		if within(dir, out) {
			return fmt.Errorf("%w: job %s is below %s", ErrOutputOverlapsInput, j, out)
		}
	}
	return nil
}

// Run recreates the output root, groups jobs and writes the report of every
// group. It stops at the first error. Nothing is removed when the output root
// is the project, one of its jobs or one of their ancestors.
func (p *Pipeline) Run(jobs []project.Job) ([]Result, error) {
	if err := p.checkOutput(jobs); err != nil {
		return nil, err
	}
	if err := os.RemoveAll(p.Output); err != nil {
		return nil, fmt.Errorf("remove output: %w", err)
	}
	if err := os.MkdirAll(p.Output, 0o755); err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}

	groups := GroupBy(jobs)
	p.Log.Info("Grouped jobs", zap.Int("jobs", len(jobs)), zap.Int("groups", len(groups)))

	results := make([]Result, 0, len(groups))
	for _, g := range groups {
		res, err := p.group(g)
		if err != nil {
			return results, fmt.Errorf("group %s: %w", g.Key, err)
		}
		results = append(results, res)
	}

	if p.Index != nil {
		if err := p.Index.Write(results); err != nil {
			return results, fmt.Errorf("index: %w", err)
		}
	}

	return results, nil
}

func (p *Pipeline) group(g Group) (Result, error) {
	res := Result{
		Key:  g.Key,
		Dir:  filepath.Join(p.Output, g.Key.Dir()),
		Jobs: len(g.Jobs),
	}
	log := p.Log.With(zap.Stringer("group", g.Key))
	log.Info("Processing group", zap.Int("jobs", len(g.Jobs)))

	if err := os.MkdirAll(res.Dir, 0o755); err != nil {
		return res, err
	}

	switch g.Key.Ensemble {
	case project.NPT:
		s, err := p.GroupDensity(g)
		if err != nil {
			return res, err
		}
		err = os.WriteFile(filepath.Join(res.Dir, DensityFile), []byte(s.Report()), 0o644)
		if err != nil {
			return res, err
		}
		log.Info(s.Report())
		res.Density = &s
	case project.NVT, project.GEMCNVT:
		res.DensitySkipped = fmt.Errorf("%w: density of %s", ErrEnsembleNotSupported, g.Key.Ensemble)
		log.Info("Skipping density", zap.Error(res.DensitySkipped))
	default:
		return res, fmt.Errorf("%w: %q", project.ErrUnknownEnsemble, g.Key.Ensemble)
	}

	if p.RDF == nil {
		return res, nil
	}

	if g.Key.Ensemble.Boxes() != 1 {
		res.RDFSkipped = fmt.Errorf("%w: rdf of %s", ErrEnsembleNotSupported, g.Key.Ensemble)
		log.Info("Skipping rdf", zap.Error(res.RDFSkipped))
		return res, nil
	}

	m, err := p.GroupRDF(g)
	if err != nil {
		return res, err
	}
	if m == nil {
		log.Warn("No trajectory for rdf", zap.String("traj", p.RDF.Traj))
		return res, nil
	}

	err = m.Write(filepath.Join(res.Dir, RDFFile))
	if err != nil {
		return res, err
	}
	if p.RDF.Plot {
		err = m.Plot(filepath.Join(res.Dir, RDFPlot), g.Key.String())
		if err != nil {
			return res, fmt.Errorf("plot: %w", err)
		}
	}
	res.RDF = m

	return res, nil
}

// GroupDensity extracts the density of every seed of g and summarizes the
// seeds that have one. Seeds with fewer production logs than MinProdFiles
// are reported but still used.
func (p *Pipeline) GroupDensity(g Group) (Summary, error) {
	var samples []float64
	for _, j := range g.Jobs {
		files, err := p.Density.Files(j.Dir)
		if err != nil {
			return Summary{}, fmt.Errorf("job %s: %w", j, err)
		}

		if len(files) < p.MinProdFiles {
			p.Log.Warn("Production cycles incomplete",
				zap.Stringer("job", j),
				zap.Stringer("group", g.Key),
				zap.Int("found", len(files)),
				zap.Int("expected", p.MinProdFiles))
		}

		s, err := p.Density.ExtractFiles(files)
		if err != nil {
			return Summary{}, fmt.Errorf("job %s: %w", j, err)
		}
		if !s.OK {
			p.Log.Debug("No density sample", zap.Stringer("job", j))
			continue
		}
		samples = append(samples, s.Value)
	}

	return Summarize(samples), nil
}

// GroupRDF computes g(r) for each seed of g having the trajectory and
// averages them. It returns nil when no seed has the trajectory yet.
func (p *Pipeline) GroupRDF(g Group) (*rdf.Mean, error) {
	var rdfs []*rdf.RDF
	for _, j := range g.Jobs {
		traj := filepath.Join(j.Dir, p.RDF.Traj)
		if _, err := os.Stat(traj); errors.Is(err, os.ErrNotExist) {
			p.Log.Debug("No trajectory", zap.Stringer("job", j))
			continue
		}

		r := &rdf.RDF{
			Traj:  traj,
			Start: p.RDF.Start,
			End:   p.RDF.End,
			RMax:  p.RDF.RMax,
			Bins:  p.RDF.Bins,
		}
		if err := r.Perform(); err != nil {
			return nil, fmt.Errorf("job %s: %w", j, err)
		}
		rdfs = append(rdfs, r)
	}

	if len(rdfs) == 0 {
		return nil, nil
	}
	return rdf.Average(rdfs)
}
