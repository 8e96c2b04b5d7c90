package evaluate

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultTopicThreshold is the minimum similarity for [MatchTopic] to accept
// a candidate.
const DefaultTopicThreshold = 0.80

// MatchTopic reconciles the topic text reported by a model with the list of
// topics the learner could choose from. Models paraphrase, translate or
// truncate topic titles, so an exact comparison is not enough.
//
// Each candidate is scored by the best of three Jaro-Winkler comparisons on
// the lower-cased strings (full text, text with spaces removed, and word
// coverage of the shorter side) plus a small Double Metaphone bonus for
// misspellings that sound alike. It returns the best candidate, its score, and whether the
// score reached [DefaultTopicThreshold]. When nothing matches, reported is
// returned unchanged.
func MatchTopic(reported string, candidates []string) (topic string, score float64, ok bool) {
	return matchTopic(reported, candidates, DefaultTopicThreshold)
}

func matchTopic(reported string, candidates []string, threshold float64) (string, float64, bool) {
	in := normaliseTopic(reported)
	if in == "" || len(candidates) == 0 {
		return reported, 0, false
	}
	inTokens := strings.Fields(in)

	var (
		best      string
		bestScore float64
	)
	for _, c := range candidates {
		cand := normaliseTopic(c)
		if cand == "" {
			continue
		}
		if cand == in {
			return c, 1, true
		}
		s := topicScore(inTokens, strings.Fields(cand), in, cand)
		if s > bestScore {
			best, bestScore = c, s
		}
	}
	if best == "" || bestScore < threshold {
		return reported, bestScore, false
	}
	return best, bestScore, true
}

func topicScore(inTokens, candTokens []string, in, cand string) float64 {
	score := matchr.JaroWinkler(in, cand, true)

	if len(inTokens) > 1 || len(candTokens) > 1 {
		joinedIn, joinedCand := strings.Join(inTokens, ""), strings.Join(candTokens, "")
		if s := matchr.JaroWinkler(joinedIn, joinedCand, true); s > score {
			score = s
		}
	}

	// Word coverage: mean best-match similarity of each word of the shorter
	// side against the longer side. Rewards a reported topic that keeps the
	// key words of a candidate in a different order or inflection.
	short, long := contentWords(inTokens), contentWords(candTokens)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) > 0 {
		var sum float64
		for _, st := range short {
			var w float64
			for _, lt := range long {
				if s := matchr.JaroWinkler(st, lt, false); s > w {
					w = s
				}
			}
			sum += w
		}
		if s := sum / float64(len(short)); s > score {
			score = s
		}
	}

	if phoneticOverlap(inTokens, candTokens) && score < 1 {
		score = min(1, score+0.05)
	}
	return score
}

// phoneticOverlap reports whether every candidate word has a Double
// Metaphone code in common with some reported word.
func phoneticOverlap(inTokens, candTokens []string) bool {
	in := make(map[string]struct{}, 2*len(inTokens))
	for _, t := range inTokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			in[p] = struct{}{}
		}
		if s != "" {
			in[s] = struct{}{}
		}
	}
	if len(in) == 0 {
		return false
	}
	for _, t := range candTokens {
		p, s := matchr.DoubleMetaphone(t)
		_, okP := in[p]
		_, okS := in[s]
		if !(p != "" && okP) && !(s != "" && okS) {
			return false
		}
	}
	return true
}

// contentWords drops words shorter than three runes ("a", "at", "my") unless
// nothing else remains.
func contentWords(tokens []string) []string {
	var out []string
	for _, t := range tokens {
		if len([]rune(t)) >= 3 {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return tokens
	}
	return out
}

// normaliseTopic lower-cases s and strips punctuation.
func normaliseTopic(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\'' || r == '"' || r == '.' || r == ',' || r == ':' || r == ';' || r == '!' || r == '?' || r == '(' || r == ')':
			return -1
		case r == '-' || r == '_' || r == '/':
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
