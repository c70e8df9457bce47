// Package project enumerates the jobs of a signac project. Each job lives in
// <root>/workspace/<id>/ and is described by a signac_statepoint.json file.
// The simulations themselves are produced by external workflow tooling; this
// package only reads what they left on disk.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Layout of a signac project on disk.
const (
	WorkspaceDir   = "workspace"
	StatepointFile = "signac_statepoint.json"
)

// Ensemble is the thermodynamic sampling scheme of a job.
type Ensemble string

// Here are the accepted ensembles. NPT is the isobaric-isothermal ensemble,
// NVT the canonical one and GEMCNVT the two-box Gibbs ensemble.
const (
	NPT     Ensemble = "NPT"
	NVT     Ensemble = "NVT"
	GEMCNVT Ensemble = "GEMC-NVT"
)

// ErrUnknownEnsemble is returned when a statepoint names an ensemble outside
// of NPT, NVT and GEMC-NVT.
var ErrUnknownEnsemble = errors.New("unknown ensemble")

// ParseEnsemble maps s onto one of the known ensembles.
func ParseEnsemble(s string) (Ensemble, error) {
	switch e := Ensemble(s); e {
	case NPT, NVT, GEMCNVT:
		return e, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEnsemble, s)
}

// UnmarshalJSON rejects ensembles that are not part of the closed set.
func (e *Ensemble) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseEnsemble(s)
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Boxes is the number of simulation boxes of the ensemble.
func (e Ensemble) Boxes() int {
	if e == GEMCNVT {
		return 2
	}
	return 1
}

// Flag is a statepoint value that may be a boolean, a string or null, such as
// long_range_correction. It keeps the textual form used in directory names.
type Flag string

// FlagNone is the value of a null flag.
const FlagNone Flag = "None"

// UnmarshalJSON accepts booleans, strings and null.
func (f *Flag) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case nil:
		*f = FlagNone
	case bool:
		*f = Flag(strconv.FormatBool(v))
	case string:
		*f = Flag(v)
	default:
		return fmt.Errorf("flag must be a boolean, a string or null, got %s", b)
	}
	return nil
}

// Statepoint is the set of parameters identifying one simulation. Fields that
// the analysis does not use are ignored when decoding.
type Statepoint struct {
	Molecule            string   `json:"molecule"`
	Engine              string   `json:"engine"`
	Ensemble            Ensemble `json:"ensemble"`
	Temperature         float64  `json:"temperature"`
	Pressure            *float64 `json:"pressure"`
	CutoffStyle         string   `json:"cutoff_style"`
	LongRangeCorrection Flag     `json:"long_range_correction"`

	// Seed is read from "replica", or from "seed" when the statepoint has no
	// replica
	Seed int `json:"replica"`
}

// Job is one simulation run: its id, its working directory and its
// statepoint.
type Job struct {
	ID  string
	Dir string
	SP  Statepoint
}

func (j Job) String() string {
	return j.ID
}

// ReadStatepoint decodes the statepoint file of the job directory dir.
func ReadStatepoint(dir string) (Statepoint, error) {
	var sp Statepoint

	b, err := os.ReadFile(filepath.Join(dir, StatepointFile))
	if err != nil {
		return sp, err
	}

	// Absent flags are treated like null ones.
	sp.LongRangeCorrection = FlagNone
	err = json.Unmarshal(b, &sp)
	if err != nil {
		return sp, fmt.Errorf("%s: %w", StatepointFile, err)
	}

	var seed struct {
		Replica *int `json:"replica"`
		Seed    *int `json:"seed"`
	}
	if err = json.Unmarshal(b, &seed); err != nil {
		return sp, fmt.Errorf("%s: %w", StatepointFile, err)
	}
	if seed.Replica == nil && seed.Seed != nil {
		sp.Seed = *seed.Seed
	}

	if sp.Molecule == "" {
		return sp, fmt.Errorf("%s: molecule is missing", StatepointFile)
	}
	if sp.Ensemble == "" {
		return sp, fmt.Errorf("%s: ensemble is missing", StatepointFile)
	}

	return sp, nil
}

// Load enumerates the jobs of the project rooted at root. Directories of the
// workspace without a statepoint file are not jobs and are skipped. The jobs
// are sorted by id. The returned directories are absolute.
func Load(root string, log *zap.Logger) ([]Job, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	ws := filepath.Join(root, WorkspaceDir)

	entries, err := os.ReadDir(ws)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	var jobs []Job
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		dir := filepath.Join(ws, e.Name())
		sp, err := ReadStatepoint(dir)
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug("Skipping directory without statepoint", zap.String("dir", dir))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", e.Name(), err)
		}

		jobs = append(jobs, Job{ID: e.Name(), Dir: dir, SP: sp})
	}

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return jobs, nil
}
