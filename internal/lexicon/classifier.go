// Package lexicon implements a deterministic, in-process sentiment
// classifier over a static valence dictionary. It is the Failsafe
// Dispatcher's fallback path and has no I/O.
package lexicon

import (
	"math"
	"strings"
	"unicode"

	"github.com/tutu-network/sentinel/internal/domain"
)

// negationWindow bounds how many preceding content tokens a negator
// affects.
const negationWindow = 3

// Classify scores text deterministically and returns a SentimentVerdict
// tagged as the fallback source. Classify never fails: empty input is
// neutral with full confidence.
func Classify(text string) domain.SentimentVerdict {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return domain.SentimentVerdict{
			Label:      domain.LabelNeutral,
			Confidence: 1.0,
			Compound:   0,
			Model:      "lexicon",
			Source:     domain.SourceFallback,
		}
	}

	var total float64
	// negateUntil tracks how many more content tokens remain under the
	// influence of the most recently seen negator.
	negateUntil := 0
	pendingAmplifier := 1.0

	for _, tok := range tokens {
		lower := strings.ToLower(tok)

		if isNegator(lower) {
			negateUntil = negationWindow
			continue
		}
		if mult, ok := intensifiers[lower]; ok {
			pendingAmplifier = mult
			continue
		}

		score, known := valence[lower]
		if !known {
			if negateUntil > 0 {
				negateUntil--
			}
			continue
		}

		score *= pendingAmplifier
		pendingAmplifier = 1.0

		if negateUntil > 0 {
			score = -score
			negateUntil--
		}

		total += score
	}

	compound := total / math.Sqrt(total*total+15)

	v := domain.SentimentVerdict{
		Compound: compound,
		Model:    "lexicon",
		Source:   domain.SourceFallback,
	}

	switch {
	case compound >= 0.05:
		v.Label = domain.LabelPositive
		v.Confidence = clamp01(math.Abs(compound))
	case compound <= -0.05:
		v.Label = domain.LabelNegative
		v.Confidence = clamp01(math.Abs(compound))
	default:
		v.Label = domain.LabelNeutral
		v.Confidence = clamp01(1 - math.Abs(compound)/0.05)
	}

	return v
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// tokenize splits on whitespace and punctuation boundaries, keeping "!"
// and "?" as their own tokens and preserving internal apostrophes (so
// negation contractions like "didn't" survive as one token).
func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	runes := []rune(text)
	for i, r := range runes {
		switch {
		case r == '!' || r == '?':
			flush()
			tokens = append(tokens, string(r))
		case r == '\'':
			// Keep apostrophe only when flanked by letters (contraction);
			// otherwise treat as a boundary.
			if i > 0 && i < len(runes)-1 && unicode.IsLetter(runes[i-1]) && unicode.IsLetter(runes[i+1]) {
				cur.WriteRune(r)
			} else {
				flush()
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
