package topics

import "strings"

// Similarity blends edit-distance similarity and word overlap:
//
//	similarity = 0.7*(1 - editDistance/maxLen) + 0.3*jaccard(words_a, words_b)
//
// where the word overlap is the Jaccard ratio of the case-insensitive word
// token sets (intersection over union). Both components are symmetric, so the
// blend is too. Near-duplicate names from wording or typo variation score
// high; genuinely distinct issues score low.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	edit := 1 - float64(editDistance(a, b))/float64(maxLen)

	return 0.7*edit + 0.3*wordOverlap(a, b)
}

// editDistance is the Levenshtein distance between two strings, computed with
// a rolling single-row table.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur := prev[0]
		prev[0] = i
		for j := 1; j <= len(rb); j++ {
			sub := cur
			if ra[i-1] != rb[j-1] {
				sub++
			}
			cur = prev[j]
			prev[j] = min3(prev[j]+1, prev[j-1]+1, sub)
		}
	}
	return prev[len(rb)]
}

// wordOverlap is intersection over union of the word token sets.
func wordOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for w := range setA {
		if setB[w] {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	return float64(shared) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[strings.Trim(w, ".,!?;:'\"()")] = true
	}
	delete(set, "")
	return set
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
