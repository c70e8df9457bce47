package analysis

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rwsmith7531/reproducibility-study/pkg/cfg"
	"github.com/rwsmith7531/reproducibility-study/pkg/project"
)

// fixture is a signac project built in a temporary directory.
type fixture struct {
	t    *testing.T
	root string
	n    int
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, root: t.TempDir()}
}

// job creates a job directory with the statepoint sp and the given files.
func (f *fixture) job(sp map[string]interface{}, files map[string]string) string {
	f.t.Helper()
	f.n++
	dir := filepath.Join(f.root, project.WorkspaceDir, fmt.Sprintf("job%02d", f.n))
	require.NoError(f.t, os.MkdirAll(dir, 0o755))

	b, err := json.Marshal(sp)
	require.NoError(f.t, err)
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, project.StatepointFile), b, 0o644))

	for name, content := range files {
		require.NoError(f.t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func (f *fixture) jobs() []project.Job {
	f.t.Helper()
	jobs, err := project.Load(f.root, zap.NewNop())
	require.NoError(f.t, err)
	return jobs
}

func methaneNPT(seed int) map[string]interface{} {
	return map[string]interface{}{
		"molecule":              "methaneUA",
		"engine":                "mcccs",
		"ensemble":              "NPT",
		"temperature":           140,
		"pressure":              1318,
		"cutoff_style":          "hard",
		"long_range_correction": false,
		"replica":               seed,
	}
}

func densityLog(values ...float64) string {
	var b strings.Builder
	b.WriteString(" Production run\n")
	for _, v := range values {
		fmt.Fprintf(&b, " specific density                        0.1 0.2 0.3 %g 0.5\n", v)
	}
	return b.String()
}

func prodLogs(values ...float64) map[string]string {
	files := make(map[string]string)
	for i, v := range values {
		files[fmt.Sprintf("run.prod%d", i+1)] = densityLog(v)
	}
	return files
}

func newPipeline(t *testing.T, out string, log *zap.Logger) *Pipeline {
	t.Helper()
	c := cfg.Default()
	c.Output = out
	p, err := New(c, log)
	require.NoError(t, err)
	return p
}

func readDensity(t *testing.T, out string, k Key) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(out, k.Dir(), DensityFile))
	require.NoError(t, err)
	return string(b)
}

func TestRunNPT(t *testing.T) {
	f := newFixture(t)
	f.job(methaneNPT(0), prodLogs(1, 1, 1, 1))
	f.job(methaneNPT(1), prodLogs(2, 2, 2, 2))
	f.job(methaneNPT(2), prodLogs(3, 3, 3, 3))
	f.job(methaneNPT(3), nil) // no production yet

	out := filepath.Join(t.TempDir(), "analysis_data")
	core, logs := observer.New(zapcore.InfoLevel)
	p := newPipeline(t, out, zap.New(core))

	results, err := p.Run(f.jobs())
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, 4, r.Jobs)
	require.NotNil(t, r.Density)
	assert.Equal(t, 3, r.Density.N)
	assert.Equal(t, 2.0, r.Density.Mean)
	assert.Equal(t, Summarize([]float64{1, 2, 3}).Report(), readDensity(t, out, r.Key))

	warns := logs.FilterMessage("Production cycles incomplete").All()
	require.Len(t, warns, 1)
	assert.Equal(t, int64(0), warns[0].ContextMap()["found"])
	assert.Equal(t, int64(4), warns[0].ContextMap()["expected"])
}

func TestRunNoSamples(t *testing.T) {
	f := newFixture(t)
	f.job(methaneNPT(0), map[string]string{"run.prod1": "no density here\n"})
	f.job(methaneNPT(1), nil)

	out := filepath.Join(t.TempDir(), "out")
	results, err := newPipeline(t, out, zap.NewNop()).Run(f.jobs())
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "The average density is NaN g/ml with SEM NaN from 0 samples",
		readDensity(t, out, results[0].Key))
}

func TestRunParseErrorIsFatal(t *testing.T) {
	f := newFixture(t)
	f.job(methaneNPT(0), prodLogs(1, 1, 1, 1))
	dir := f.job(methaneNPT(1), map[string]string{"run.prod1": " specific density  0.1 0.2 0.3 nan? 0.5\n"})

	out := filepath.Join(t.TempDir(), "out")
	_, err := newPipeline(t, out, zap.NewNop()).Run(f.jobs())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job02")

	k := KeyOf(f.jobs()[0].SP)
	_, statErr := os.Stat(filepath.Join(out, k.Dir(), DensityFile))
	assert.ErrorIs(t, statErr, fs.ErrNotExist)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRunOutputOverlapsProject(t *testing.T) {
	f := newFixture(t)
	job := f.job(methaneNPT(0), prodLogs(1, 1, 1, 1))
	before := tree(t, f.root)

	for name, out := range map[string]string{
		"project root": f.root,
		"workspace":    filepath.Join(f.root, project.WorkspaceDir),
		"job":          job,
		"ancestor":     filepath.Dir(f.root),
	} {
		t.Run(name, func(t *testing.T) {
			p := newPipeline(t, out, zap.NewNop())
			p.Project = f.root

			_, err := p.Run(f.jobs())
			assert.ErrorIs(t, err, ErrOutputOverlapsInput)
			assert.Equal(t, before, tree(t, f.root))
		})
	}

	// Jobs are checked even without a project root.
	p := newPipeline(t, job, zap.NewNop())
	p.Project = ""
	_, err := p.Run(f.jobs())
	assert.ErrorIs(t, err, ErrOutputOverlapsInput)
	assert.Equal(t, before, tree(t, f.root))

	// A sibling sharing a name prefix is not an overlap.
	p = newPipeline(t, f.root+"_analysis", zap.NewNop())
	p.Project = f.root
	_, err = p.Run(f.jobs())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(f.root+"_analysis"))
}

func TestRunUnsupportedEnsemble(t *testing.T) {
	f := newFixture(t)
	nvt := methaneNPT(0)
	nvt["ensemble"] = "NVT"
	nvt["pressure"] = nil
	f.job(nvt, prodLogs(1, 1, 1, 1))

	gemc := methaneNPT(0)
	gemc["ensemble"] = "GEMC-NVT"
	f.job(gemc, prodLogs(1, 1, 1, 1))

	out := filepath.Join(t.TempDir(), "out")
	results, err := newPipeline(t, out, zap.NewNop()).Run(f.jobs())
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		assert.Nil(t, r.Density)
		assert.ErrorIs(t, r.DensitySkipped, ErrEnsembleNotSupported)

		info, err := os.Stat(r.Dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		_, err = os.Stat(filepath.Join(r.Dir, DensityFile))
		assert.ErrorIs(t, err, fs.ErrNotExist)
	}
}

// tree returns the content of every file below root.
func tree(t *testing.T, root string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		if d.IsDir() {
			files[rel+"/"] = ""
			return nil
		}
		b, err := os.ReadFile(path)
		files[rel] = string(b)
		return err
	})
	require.NoError(t, err)
	return files
}

func TestRunIdempotent(t *testing.T) {
	f := newFixture(t)
	f.job(methaneNPT(0), prodLogs(0.61, 0.62, 0.63, 0.64))
	f.job(methaneNPT(1), prodLogs(0.6, 0.6))
	other := methaneNPT(0)
	other["temperature"] = 160
	f.job(other, prodLogs(0.5, 0.5, 0.5, 0.5))

	out := filepath.Join(t.TempDir(), "out")
	p := newPipeline(t, out, zap.NewNop())

	_, err := p.Run(f.jobs())
	require.NoError(t, err)
	first := tree(t, out)

	// A stale file from a previous run disappears.
	require.NoError(t, os.WriteFile(filepath.Join(out, "stale.txt"), []byte("x"), 0o644))

	_, err = p.Run(f.jobs())
	require.NoError(t, err)
	assert.Equal(t, first, tree(t, out))
	assert.Len(t, first, 5)
}

func TestRunRDF(t *testing.T) {
	traj := `ITEM: TIMESTEP
0
ITEM: NUMBER OF ATOMS
2
ITEM: BOX BOUNDS pp pp pp
0 10
0 10
0 10
ITEM: ATOMS id type x y z
1 1 1 1 1
2 1 2.5 1 1
`
	f := newFixture(t)
	files := prodLogs(1, 1, 1, 1)
	files["prod.lammpstrj"] = traj
	f.job(methaneNPT(0), files)
	f.job(methaneNPT(1), files)

	gemc := methaneNPT(0)
	gemc["ensemble"] = "GEMC-NVT"
	f.job(gemc, files)

	out := filepath.Join(t.TempDir(), "out")
	c := cfg.Default()
	c.Output = out
	c.RDF = cfg.RDF{Traj: "prod.lammpstrj", RMax: 4, Bins: 4}
	p, err := New(c, zap.NewNop())
	require.NoError(t, err)

	results, err := p.Run(f.jobs())
	require.NoError(t, err)
	require.Len(t, results, 2)

	npt := results[0]
	require.NotNil(t, npt.RDF)
	assert.Equal(t, 2, npt.RDF.N)
	assert.Zero(t, npt.RDF.SEM[1])
	assert.FileExists(t, filepath.Join(npt.Dir, RDFFile))
	assert.NoFileExists(t, filepath.Join(npt.Dir, RDFPlot))

	assert.Nil(t, results[1].RDF)
	assert.ErrorIs(t, results[1].RDFSkipped, ErrEnsembleNotSupported)
}

func TestIndex(t *testing.T) {
	f := newFixture(t)
	f.job(methaneNPT(0), prodLogs(1, 1, 1, 1))
	f.job(methaneNPT(1), prodLogs(3, 3, 3, 3))
	nvt := methaneNPT(0)
	nvt["ensemble"] = "NVT"
	nvt["pressure"] = nil
	f.job(nvt, nil)

	dir := t.TempDir()
	c := cfg.Default()
	c.Output = filepath.Join(dir, "out")
	c.Index = filepath.Join(dir, "groups.db")
	p, err := New(c, zap.NewNop())
	require.NoError(t, err)

	// Twice, the second run replaces the rows of the first one.
	for i := 0; i < 2; i++ {
		_, err = p.Run(f.jobs())
		require.NoError(t, err)
	}

	db, err := sql.Open("sqlite", c.Index)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM groups`).Scan(&count))
	assert.Equal(t, 2, count)

	var (
		mean sql.NullFloat64
		n    sql.NullInt64
	)
	require.NoError(t, db.QueryRow(`SELECT density_mean, density_samples FROM groups WHERE ensemble = 'NPT'`).Scan(&mean, &n))
	assert.Equal(t, 2.0, mean.Float64)
	assert.Equal(t, int64(2), n.Int64)

	var (
		pressure sql.NullFloat64
		skipped  sql.NullString
	)
	require.NoError(t, db.QueryRow(`SELECT pressure, skipped FROM groups WHERE ensemble = 'NVT'`).Scan(&pressure, &skipped))
	assert.False(t, pressure.Valid)
	assert.Contains(t, skipped.String, "not supported")
}
