// Package density extracts the density of one seed from its production run
// logs. A log line such as
//
//	specific density                        0.6251   0.6249   0.6253   0.6250
//
// carries the value at a fixed whitespace-delimited field. Logs compressed with
// gzip (.gz) or zstd (.zst) are read transparently.
package density

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrParse is wrapped by every ParseError.
var ErrParse = errors.New("density is not numeric")

// ParseError reports a density line that could not be converted.
type ParseError struct {
	File string
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v: %q", e.File, e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}

// Extractor locates the production logs of a job and reads the density
// values they contain.
type Extractor struct {
	// Pattern is the glob matching the production logs inside a job directory
	Pattern string

	// Label identifies a density line
	Label string

	// Field is the one-based field holding the value
	Field int
}

// Sample is the density of one seed. OK is false when the seed has no
// density line yet.
type Sample struct {
	Value float64
	Files int
	Lines int
	OK    bool
}

// Files returns the sorted production logs of the job directory dir. Only the
// base names are matched against Pattern, so dir may contain glob
// metacharacters. A missing directory has no logs.
func (x *Extractor) Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ok, err := filepath.Match(x.Pattern, e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}

	sort.Strings(files)
	return files, nil
}

// Extract returns the mean of all the density values found in the production
// logs of dir. A directory without logs or without density lines yields a
// Sample whose OK field is false. A density line whose field cannot be parsed
// is an error.
func (x *Extractor) Extract(dir string) (Sample, error) {
	files, err := x.Files(dir)
	if err != nil {
		return Sample{}, err
	}
	return x.ExtractFiles(files)
}

// ExtractFiles is Extract over an explicit list of logs.
func (x *Extractor) ExtractFiles(files []string) (Sample, error) {
	s := Sample{Files: len(files)}

	var sum float64
	for _, name := range files {
		n, v, err := x.scanFile(name)
		if err != nil {
			return Sample{Files: len(files)}, err
		}
		s.Lines += n
		sum += v
	}

	if s.Lines == 0 {
		return s, nil
	}

	s.Value = sum / float64(s.Lines)
	s.OK = true
	return s, nil
}

// scanFile returns the number of density lines of the file and the sum of
// their values.
func (x *Extractor) scanFile(name string) (n int, sum float64, err error) {
	f, err := open(name)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	n, sum, err = x.Scan(f, filepath.Base(name))
	if err != nil {
		return 0, 0, err
	}
	return
}

// Scan reads r line by line. name is only used in errors.
func (x *Extractor) Scan(r io.Reader, name string) (n int, sum float64, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var line int
	for sc.Scan() {
		line++
		l := sc.Text()
		if !strings.Contains(l, x.Label) {
			continue
		}

		fields := strings.Fields(l)
		if len(fields) < x.Field {
			return 0, 0, &ParseError{File: name, Line: line, Text: l, Err: fmt.Errorf("only %d fields, want field %d", len(fields), x.Field)}
		}

		v, err := strconv.ParseFloat(fields[x.Field-1], 64)
		if err != nil {
			return 0, 0, &ParseError{File: name, Line: line, Text: l, Err: err}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, &ParseError{File: name, Line: line, Text: l, Err: fmt.Errorf("non-finite value %v", v)}
		}

		n++
		sum += v
	}

	if err := sc.Err(); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, sum, nil
}

// zstdReadCloser gives the zstd decoder the io.ReadCloser signature.
type zstdReadCloser struct {
	*zstd.Decoder
	f *os.File
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

type gzipReadCloser struct {
	*gzip.Reader
	f *os.File
}

func (g gzipReadCloser) Close() error {
	g.Reader.Close()
	return g.f.Close()
}

// open opens name, decompressing it according to its extension.
func open(name string) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".gz":
		r, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return gzipReadCloser{r, f}, nil
	case ".zst":
		r, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return zstdReadCloser{r, f}, nil
	}

	return f, nil
}
