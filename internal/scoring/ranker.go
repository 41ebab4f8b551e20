package scoring

import "sort"

// RankedEntry is one instrument's position in the final ordering.
type RankedEntry struct {
	Rank       int        `json:"rank"`
	Symbol     string     `json:"symbol"`
	Final      float64    `json:"final"`
	Components Components `json:"components"`
}

// Rank orders instruments by descending final score, breaking ties by
// symbol ascending so identical inputs always rank identically. Rank
// positions run 1..N. A positive topN truncates the result; zero or
// negative keeps everything. Pure function of its input.
func Rank(components []Components, topN int) []RankedEntry {
	ordered := make([]Components, len(components))
	copy(ordered, components)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Final != ordered[j].Final {
			return ordered[i].Final > ordered[j].Final
		}
		return ordered[i].Symbol < ordered[j].Symbol
	})

	if topN > 0 && topN < len(ordered) {
		ordered = ordered[:topN]
	}

	entries := make([]RankedEntry, len(ordered))
	for i, c := range ordered {
		entries[i] = RankedEntry{
			Rank:       i + 1,
			Symbol:     c.Symbol,
			Final:      c.Final,
			Components: c,
		}
	}
	return entries
}
