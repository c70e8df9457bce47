package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rwsmith7531/reproducibility-study/pkg/project"
)

// Key identifies a physical condition. Jobs sharing a Key only differ by their
// seed.
type Key struct {
	Molecule            string
	Ensemble            project.Ensemble
	Temperature         float64
	Pressure            float64
	HasPressure         bool
	CutoffStyle         string
	LongRangeCorrection project.Flag
}

// KeyOf returns the group key of a statepoint.
func KeyOf(sp project.Statepoint) Key {
	k := Key{
		Molecule:            sp.Molecule,
		Ensemble:            sp.Ensemble,
		Temperature:         sp.Temperature,
		CutoffStyle:         sp.CutoffStyle,
		LongRangeCorrection: sp.LongRangeCorrection,
	}
	if sp.Pressure != nil {
		k.Pressure = *sp.Pressure
		k.HasPressure = true
	}
	return k
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (k Key) pressure() string {
	if !k.HasPressure {
		return string(project.FlagNone)
	}
	return formatFloat(k.Pressure)
}

// escaper percent-encodes the separator and the characters that cannot appear
// in a directory name, so that Dir stays injective.
var escaper = strings.NewReplacer(
	"%", "%25",
	"_", "%5F",
	"/", "%2F",
	"\\", "%5C",
	"\x00", "%00",
)

// Dir returns the directory name of the group, for example
// methaneUA_NPT_140K_1318kPa_cutoff_hard_lrc_false. String fields are escaped
// so that two distinct keys never share a directory.
func (k Key) Dir() string {
	return fmt.Sprintf("%s_%s_%sK_%skPa_cutoff_%s_lrc_%s",
		escaper.Replace(k.Molecule),
		escaper.Replace(string(k.Ensemble)),
		formatFloat(k.Temperature),
		k.pressure(),
		escaper.Replace(k.CutoffStyle),
		escaper.Replace(string(k.LongRangeCorrection)),
	)
}

func (k Key) String() string {
	return fmt.Sprintf("%s %s %sK %skPa cutoff=%s lrc=%s",
		k.Molecule, k.Ensemble, formatFloat(k.Temperature), k.pressure(),
		k.CutoffStyle, k.LongRangeCorrection)
}

// Group is the set of jobs sharing a Key.
type Group struct {
	Key  Key
	Jobs []project.Job
}

// GroupBy partitions jobs by Key. Groups appear in the order of their first
// job, and jobs keep their relative order inside a group.
func GroupBy(jobs []project.Job) []Group {
	var groups []Group
	index := make(map[Key]int)

	for _, j := range jobs {
		k := KeyOf(j.SP)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{Key: k})
		}
		groups[i].Jobs = append(groups[i].Jobs, j)
	}

	return groups
}
