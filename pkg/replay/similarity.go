package replay

import (
	"github.com/mudler/LocalExplorer/core/types"
	"github.com/mudler/LocalExplorer/pkg/xstrings"
)

// Similarity scores two states by the Jaccard index of their description
// lines. States of different activities never match.
func Similarity(a, b *types.State) float64 {
	if a == nil || b == nil || a.Activity != b.Activity {
		return 0
	}
	left, right := lineSet(a.Description), lineSet(b.Description)
	if len(left) == 0 && len(right) == 0 {
		return 1
	}
	shared := 0
	for l := range left {
		if _, ok := right[l]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(left)+len(right)-shared)
}

func lineSet(description string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, l := range xstrings.Lines(description) {
		set[l] = struct{}{}
	}
	return set
}
