package resolution

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DefaultThreshold is the minimum score for two names to be treated as the
// same entry.
const DefaultThreshold = 80

// Match is the winning candidate of BestMatch.
type Match struct {
	Index int
	Value string
	Score int
}

// Normalize lower-cases s, turns punctuation into spaces and collapses runs
// of whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Score returns the weighted similarity of a and b in 0..100 on normalized
// input. Names of similar length compare whole strings, sorted words and
// shared word sets. When one name is at least 1.5 times longer, the shorter
// one is also aligned against every same-length window of the longer, so
// "Maggi" scores 90 against "Maggi Noodles". An empty side scores 0.
func Score(a, b string) int {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 100
	}

	la, lb := utf8.RuneCountInString(na), utf8.RuneCountInString(nb)
	lenRatio := float64(max(la, lb)) / float64(min(la, lb))
	best := float64(ratio(na, nb))

	if lenRatio < 1.5 {
		best = max(best,
			0.95*float64(ratio(sortTokens(na), sortTokens(nb))),
			0.95*float64(tokenSetRatio(na, nb, ratio)),
		)
		return int(math.Round(best))
	}

	scale := 0.9
	if lenRatio >= 8 {
		scale = 0.6
	}
	best = max(best,
		scale*float64(partialRatio(na, nb)),
		0.95*scale*float64(partialRatio(sortTokens(na), sortTokens(nb))),
		0.95*scale*float64(tokenSetRatio(na, nb, partialRatio)),
	)
	return int(math.Round(best))
}

// BestMatch returns the candidate with the highest score at or above
// threshold. Ties keep the earliest candidate so the first matching sheet row
// wins.
func BestMatch(query string, candidates []string, threshold int) (Match, bool) {
	best := Match{Index: -1}
	for i, c := range candidates {
		s := Score(query, c)
		if s < threshold {
			continue
		}
		if s > best.Score || best.Index < 0 {
			best = Match{Index: i, Value: c, Score: s}
		}
		if s == 100 {
			break
		}
	}
	return best, best.Index >= 0
}

func ratio(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return int(math.Round(100 * (1 - float64(dist)/float64(longest))))
}

// partialRatio is the best ratio of the shorter string against each window
// of the same length in the longer one.
func partialRatio(a, b string) int {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}
	needle := string(short)
	best := 0
	for i := 0; i+len(short) <= len(long); i++ {
		if s := ratio(needle, string(long[i:i+len(short)])); s > best {
			best = s
			if best == 100 {
				break
			}
		}
	}
	return best
}

// tokenSetRatio compares the shared words alone and with each side's extra
// words appended, so "tata salt" fully matches "tata salt 1kg".
func tokenSetRatio(a, b string, score func(string, string) int) int {
	inA, inB := tokenSet(a), tokenSet(b)
	var common, onlyA, onlyB []string
	for t := range inA {
		if inB[t] {
			common = append(common, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range inB {
		if !inA[t] {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	t0 := strings.Join(common, " ")
	t1 := strings.TrimSpace(t0 + " " + strings.Join(onlyA, " "))
	t2 := strings.TrimSpace(t0 + " " + strings.Join(onlyB, " "))

	best := score(t1, t2)
	if t0 != "" {
		best = max(best, score(t0, t1), score(t0, t2))
	}
	return best
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(s) {
		set[t] = true
	}
	return set
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
