package indexer

import (
	"strings"
	"time"
)

// generationLayout gives fixed-width, lowercase, lexically sortable
// timestamps with microsecond resolution.
const generationLayout = "2006-01-02-15h04m05.000000s"

// GenerationName returns the index name of the generation of alias built at t.
func GenerationName(alias string, t time.Time) string {
	return alias + "_" + t.UTC().Format(generationLayout)
}

// ParseGeneration reports whether index is a generation of alias and, if so,
// when it was built. Indices of other collections whose alias merely shares
// the prefix do not parse.
func ParseGeneration(alias, index string) (time.Time, bool) {
	suffix, ok := strings.CutPrefix(index, alias+"_")
	if !ok || len(suffix) != len(generationLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(generationLayout, suffix)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
