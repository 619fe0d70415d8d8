package targets

import "github.com/xrash/smetrics"

const (
	// minimum Jaro-Winkler similarity for a suggestion, exclusive
	suggestionThreshold = 0.8

	winklerBoostThreshold = 0.7
	winklerPrefixSize     = 4
)

// Suggest returns the candidate most similar to input, if its similarity exceeds 0.8.
// When several candidates share the best score the first one wins.
func Suggest(input string, candidates []string) (string, bool) {
	best := ""
	bestScore := 0.0
	found := false
	for _, c := range candidates {
		score := smetrics.JaroWinkler(input, c, winklerBoostThreshold, winklerPrefixSize)
		if score > suggestionThreshold && (!found || score > bestScore) {
			best, bestScore, found = c, score, true
		}
	}
	return best, found
}
