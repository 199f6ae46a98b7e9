package dedup

import "strings"

// Similarity scores two normalized labels in [0,1] using character-trigram
// Jaccard overlap. Identical labels score 1.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	inter := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// trigrams returns the padded character trigram set of s.
func trigrams(s string) map[string]struct{} {
	s = "  " + strings.TrimSpace(s) + " "
	set := make(map[string]struct{})
	runes := []rune(s)
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}
