package rdf

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Mean is g(r) averaged over independent seeds of the same condition, with the
// standard error of the mean in each bin.
type Mean struct {
	R   []float64
	G   []float64
	SEM []float64
	N   int
}

// Average averages the results of several RDF sharing the same binning. The
// SEM uses the population standard deviation.
func Average(rdfs []*RDF) (*Mean, error) {
	if len(rdfs) == 0 {
		return nil, fmt.Errorf("no rdf to average")
	}

	ref := rdfs[0]
	for _, r := range rdfs[1:] {
		if r.Bins != ref.Bins || r.RMax != ref.RMax || len(r.Res) != len(ref.Res) {
			return nil, fmt.Errorf("%s and %s do not share the same bins", ref.Traj, r.Traj)
		}
	}

	m := &Mean{
		R:   make([]float64, ref.Bins),
		G:   make([]float64, ref.Bins),
		SEM: make([]float64, ref.Bins),
		N:   len(rdfs),
	}

	col := make([]float64, len(rdfs))
	sqrtN := math.Sqrt(float64(len(rdfs)))
	for i := range m.G {
		for k, r := range rdfs {
			col[k] = r.Res[i]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		m.R[i] = ref.R(i)
		m.G[i] = mean
		m.SEM[i] = std / sqrtN
	}

	return m, nil
}

// Write writes r, g(r) and its SEM, one bin per line, into path.
func (m *Mean) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# r g(r) sem (%d samples)\n", m.N)
	for i := range m.G {
		fmt.Fprintln(w, m.R[i], m.G[i], m.SEM[i])
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Plot saves g(r) as a PNG (or any format supported by gonum/plot, chosen by
// the extension of path).
func (m *Mean) Plot(path, title string) error {
	pts := make(plotter.XYs, len(m.G))
	for i := range m.G {
		pts[i].X = m.R[i]
		pts[i].Y = m.G[i]
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "r"
	p.Y.Label.Text = "g(r)"
	p.Add(plotter.NewGrid())

	l, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Add(l)

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
