package rdf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/rwsmith7531/reproducibility-study/pkg/traj/lammpstrj"
)

// RDF structure is a structure containing the parameters of the radial
// distribution function of one trajectory and, after Perform, its result.
type RDF struct {
	Traj string
	Out  string

	// Start is the first frame that will be read, End the frame after the
	// last one. End = 0 reads until the end of the file
	Start int
	End   int

	RMax float64
	Bins int

	Frames int
	Res    []float64
}

// Width returns the width of one bin.
func (r *RDF) Width() float64 {
	return r.RMax / float64(r.Bins)
}

// R returns the center of the bin i.
func (r *RDF) R(i int) float64 {
	return (float64(i) + 0.5) * r.Width()
}

// Perform reads the trajectory and averages g(r) over the frames. Distances
// use the minimum image convention, so RMax cannot exceed half of the
// smallest box length.
func (r *RDF) Perform() error {
	if r.Bins <= 0 || r.RMax <= 0 {
		return fmt.Errorf("Bins and RMax must be greater than 0")
	}

	t, err := lammpstrj.Open(r.Traj)
	if err != nil {
		return err
	}
	defer t.Close()

	for i := 0; i < r.Start; i++ {
		err = t.Skip()
		if err != nil {
			return fmt.Errorf("skip frame %d: %w", i, err)
		}
	}

	r.Res = make([]float64, r.Bins)
	r.Frames = 0
	hist := make([]float64, r.Bins)

	var f lammpstrj.Frame
	for c := r.Start; r.End == 0 || c < r.End; c++ {
		err = t.Next(&f)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("frame %d: %w", c, err)
		}

		err = r.frame(&f, hist)
		if err != nil {
			return fmt.Errorf("frame %d: %w", c, err)
		}
		r.Frames++
	}

	if r.Frames == 0 {
		return fmt.Errorf("no frame read from %s", r.Traj)
	}

	for i := range r.Res {
		r.Res[i] /= float64(r.Frames)
	}
	return nil
}

// frame adds g(r) of one frame to Res. hist is a scratch slice.
func (r *RDF) frame(f *lammpstrj.Frame, hist []float64) error {
	box := f.Box()
	for k := 0; k < 3; k++ {
		if r.RMax > box[k]/2 {
			return fmt.Errorf("RMax %g is larger than half of the box (%g)", r.RMax, box[k])
		}
	}

	for i := range hist {
		hist[i] = 0
	}

	n := len(f.Pos)
	if n < 2 {
		return fmt.Errorf("at least 2 atoms are required")
	}

	w := r.Width()
	rmax2 := r.RMax * r.RMax
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			var d2 float64
			for k := 0; k < 3; k++ {
				d := f.Pos[i][k] - f.Pos[j][k]
				d -= box[k] * math.Round(d/box[k])
				d2 += d * d
			}
			if d2 >= rmax2 {
				continue
			}
			b := int(math.Sqrt(d2) / w)
			if b < len(hist) {
				hist[b] += 2
			}
		}
	}

	// Normalization by the ideal gas at the same density
	rho := float64(n) / f.Volume()
	for i := range hist {
		lo, hi := float64(i)*w, float64(i+1)*w
		shell := 4. / 3. * math.Pi * (hi*hi*hi - lo*lo*lo)
		r.Res[i] += hist[i] / (float64(n) * rho * shell)
	}

	return nil
}

// Write writes the results into Out.
func (r *RDF) Write() error {
	f, err := os.Create(r.Out)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	for i := range r.Res {
		fmt.Fprintln(w, r.R(i), r.Res[i])
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
