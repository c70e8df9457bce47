package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Summary is the mean and standard error of the mean over the seeds of a
// group. Mean and SEM are NaN when N is 0.
type Summary struct {
	Mean float64
	SEM  float64
	N    int
}

// Summarize computes the mean of x and its standard error. The standard
// deviation is the population one (divided by n), so SEM = std/sqrt(n).
func Summarize(x []float64) Summary {
	if len(x) == 0 {
		return Summary{Mean: math.NaN(), SEM: math.NaN()}
	}

	mean, std := stat.PopMeanStdDev(x, nil)
	return Summary{
		Mean: mean,
		SEM:  std / math.Sqrt(float64(len(x))),
		N:    len(x),
	}
}

// Report is the sentence written in the density results file.
func (s Summary) Report() string {
	return fmt.Sprintf("The average density is %s g/ml with SEM %s from %d samples",
		formatFloat(s.Mean), formatFloat(s.SEM), s.N)
}
