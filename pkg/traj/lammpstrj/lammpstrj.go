package lammpstrj

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Frame is one configuration of a Lammps Trajectory: its timestep, the bounds
// of its orthorhombic box and the unwrapped or wrapped position of each atom.
type Frame struct {
	Step int
	Lo   [3]float64
	Hi   [3]float64
	Pos  [][3]float64
}

// Box returns the length of the box along each axis.
func (f *Frame) Box() (box [3]float64) {
	for k := 0; k < 3; k++ {
		box[k] = f.Hi[k] - f.Lo[k]
	}
	return
}

// Volume returns the volume of the box.
func (f *Frame) Volume() float64 {
	b := f.Box()
	return b[0] * b[1] * b[2]
}

// Reader reads the frames of a Lammps Trajectory one after the other. The
// columns holding the coordinates are x y z, xu yu zu or xs ys zs (scaled).
// See Lammps Documentation for their meaning.
type Reader struct {
	r *bufio.Reader
	c io.Closer

	line    int
	inFrame bool
}

// NewReader returns a Reader reading from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Open opens the trajectory file path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := NewReader(f)
	r.c = f
	return r, nil
}

// Close closes the file opened by Open.
func (r *Reader) Close() error {
	if r.c == nil {
		return nil
	}
	return r.c.Close()
}

// readLine reads ONE line without its line ending. A last line without a
// line ending is returned normally. The end of the file in the middle of a
// frame is io.ErrUnexpectedEOF.
func (r *Reader) readLine() (string, error) {
	l, err := r.r.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", err
		}
		if l == "" {
			if r.inFrame {
				return "", io.ErrUnexpectedEOF
			}
			return "", io.EOF
		}
	}
	r.line++
	return strings.TrimRight(l, "\r\n"), nil
}

func (r *Reader) errorf(format string, a ...interface{}) error {
	return fmt.Errorf("line %d: "+format, append([]interface{}{r.line}, a...)...)
}

// item reads an ITEM: line and checks that it starts with name. It returns
// the words that follow name.
func (r *Reader) item(name string) ([]string, error) {
	l, err := r.readLine()
	if err != nil {
		return nil, err
	}
	prefix := "ITEM: " + name
	if !strings.HasPrefix(l, prefix) {
		return nil, r.errorf("expected %q, got %q", prefix, l)
	}
	return strings.Fields(strings.TrimPrefix(l, prefix)), nil
}

// header reads the lines preceding the atoms and returns the number of atoms
// and the atom columns.
func (r *Reader) header(f *Frame) (n int, cols []string, err error) {
	if _, err = r.item("TIMESTEP"); err != nil {
		return
	}
	r.inFrame = true

	l, err := r.readLine()
	if err != nil {
		return
	}
	f.Step, err = strconv.Atoi(strings.TrimSpace(l))
	if err != nil {
		return 0, nil, r.errorf("timestep: %w", err)
	}

	if _, err = r.item("NUMBER OF ATOMS"); err != nil {
		return
	}
	l, err = r.readLine()
	if err != nil {
		return
	}
	n, err = strconv.Atoi(strings.TrimSpace(l))
	if err != nil {
		return 0, nil, r.errorf("number of atoms: %w", err)
	}
	if n < 0 {
		return 0, nil, r.errorf("negative number of atoms %d", n)
	}

	// Size of the box
	if _, err = r.item("BOX BOUNDS"); err != nil {
		return
	}
	for k := 0; k < 3; k++ {
		l, err = r.readLine()
		if err != nil {
			return
		}

		fields := strings.Fields(l)
		if len(fields) < 2 {
			return 0, nil, r.errorf("unable to get the size of the box")
		}

		f.Lo[k], err = strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, nil, r.errorf("box: %w", err)
		}
		f.Hi[k], err = strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, nil, r.errorf("box: %w", err)
		}
	}

	cols, err = r.item("ATOMS")
	return
}

// columns returns the position of the coordinates and whether they are
// scaled.
func (r *Reader) columns(fields []string) (cols [3]int, scaled bool, err error) {
	for _, set := range [][3]string{{"x", "y", "z"}, {"xu", "yu", "zu"}, {"xs", "ys", "zs"}} {
		found := 0
		for k, v := range fields {
			for a := 0; a < 3; a++ {
				if v == set[a] {
					cols[a] = k
					found++
				}
			}
		}
		if found == 3 {
			return cols, set[0] == "xs", nil
		}
	}
	return cols, false, r.errorf("cannot find the columns x, y and z")
}

// Next reads the next frame into f, reusing its Pos slice. It returns io.EOF
// when there is no frame left.
func (r *Reader) Next(f *Frame) error {
	defer func() { r.inFrame = false }()

	n, fields, err := r.header(f)
	if err != nil {
		return err
	}

	cols, scaled, err := r.columns(fields)
	if err != nil {
		return err
	}
	box := f.Box()

	if cap(f.Pos) < n {
		f.Pos = make([][3]float64, n)
	}
	f.Pos = f.Pos[:n]

	for a := 0; a < n; a++ {
		l, err := r.readLine()
		if err != nil {
			return err
		}

		atom := strings.Fields(l)
		if len(atom) != len(fields) {
			return r.errorf("number of columns don't match")
		}

		for k := 0; k < 3; k++ {
			v, err := strconv.ParseFloat(atom[cols[k]], 64)
			if err != nil {
				return r.errorf("atom %d: %w", a, err)
			}
			if scaled {
				v = f.Lo[k] + v*box[k]
			}
			f.Pos[a][k] = v
		}
	}

	return nil
}

// Skip reads and discards the next frame.
func (r *Reader) Skip() error {
	var f Frame
	return r.Next(&f)
}
