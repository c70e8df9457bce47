package cfg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up in the working directory
// when no path is given.
const DefaultFile = "analysis.yaml"

// RDF holds the parameters of the radial distribution function analysis. The
// analysis is disabled when Traj is empty.
type RDF struct {
	// Traj is the name of the LAMMPS trajectory file inside each job directory
	Traj string `yaml:"traj"`

	// RMax is the largest distance of the histogram, in the trajectory unit
	RMax float64 `yaml:"rMax"`

	// Bins is the number of bins between 0 and RMax
	Bins int `yaml:"bins"`

	// Start is the first frame that will be read. It must be greater or equal
	// to 0
	Start int `yaml:"start"`

	// End is the frame after the last one that will be read. 0 means until the
	// end of the file
	End int `yaml:"end"`

	// Plot specifies if a PNG figure is written next to the text output
	Plot bool `yaml:"plot"`
}

// Enabled reports whether the RDF analysis was requested.
func (r RDF) Enabled() bool {
	return r.Traj != ""
}

// Cfg is a structure containing the parameters specified in the configuration
// file. It can be instanced through the New function, through Default or by
// "hand". If it is instanced by hand, please use the Check method to check if
// the Cfg meets the requirements.
type Cfg struct {
	// Project is the root of the signac project (the directory containing
	// workspace/)
	Project string `yaml:"project"`

	// Output is the directory receiving one subdirectory per group. It is
	// removed and recreated on every run
	Output string `yaml:"output"`

	// ProdPattern is the glob matching the production run logs of one job
	ProdPattern string `yaml:"prodPattern"`

	// MinProdFiles is the number of production logs expected per job. Fewer
	// files only produce a warning
	MinProdFiles int `yaml:"minProdFiles"`

	// DensityLabel is the text identifying a density line in the logs
	DensityLabel string `yaml:"densityLabel"`

	// DensityField is the one-based whitespace-delimited field holding the
	// density value on a matching line
	DensityField int `yaml:"densityField"`

	// Index is the path of an optional SQLite database receiving the group
	// summaries. Empty disables it
	Index string `yaml:"index"`

	RDF RDF `yaml:"rdf"`
}

// Default returns the configuration used when no file is given.
func Default() *Cfg {
	return &Cfg{
		Project:      ".",
		Output:       "analysis_data",
		ProdPattern:  "run*prod*",
		MinProdFiles: 4,
		DensityLabel: "specific density",
		DensityField: 6,
		RDF: RDF{
			RMax: 12,
			Bins: 120,
		},
	}
}

// New opens and decodes the specified configuration file over the defaults.
// The file must be a YAML file. This method automatically calls the Check
// method to check the integrity of Cfg.
func New(p string) (*Cfg, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := Default()
	r := bufio.NewReader(f)
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err = dec.Decode(c)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}

	err = c.Check()
	if err != nil {
		return nil, fmt.Errorf("Check: %w", err)
	}

	return c, nil
}

// Load reads p when it is not empty. Otherwise it reads DefaultFile from dir
// if it exists, and falls back to Default.
func Load(dir, p string) (*Cfg, error) {
	if p != "" {
		return New(p)
	}

	p = filepath.Join(dir, DefaultFile)
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return New(p)
}

// Check checks if Cfg is correct. It returns an error if a field doesn't meet
// the requirements.
func (c *Cfg) Check() error {
	if c.Project == "" {
		return fmt.Errorf("project cannot be empty")
	}

	if c.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	if _, err := filepath.Match(c.ProdPattern, ""); err != nil || c.ProdPattern == "" {
		return fmt.Errorf("prodPattern %q is not a valid pattern", c.ProdPattern)
	}

	if c.MinProdFiles < 0 {
		return fmt.Errorf("minProdFiles cannot be lower than 0")
	}

	if c.DensityLabel == "" {
		return fmt.Errorf("densityLabel cannot be empty")
	}

	if c.DensityField <= 0 {
		return fmt.Errorf("densityField cannot be lower or equal to 0")
	}

	if !c.RDF.Enabled() {
		return nil
	}

	if c.RDF.RMax <= 0 {
		return fmt.Errorf("rdf.rMax cannot be lower or equal to 0")
	}

	if c.RDF.Bins <= 0 {
		return fmt.Errorf("rdf.bins cannot be lower or equal to 0")
	}

	if c.RDF.Start < 0 {
		return fmt.Errorf("rdf.start must be greater or equal to 0")
	}

	if c.RDF.End != 0 && c.RDF.End <= c.RDF.Start {
		return fmt.Errorf("rdf.end cannot be lower or equal to rdf.start")
	}

	return nil
}
