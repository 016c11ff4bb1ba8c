package lexicon

// valence maps a lowercased token to a signed score in roughly [-3, 3].
// Magnitudes follow the same rough scale VADER-style lexicons use: mild
// words near 1, strong words near 2-3.
var valence = map[string]float64{
	// strongly positive
	"amazing":      2.8,
	"awesome":      2.8,
	"excellent":    2.9,
	"fantastic":    2.9,
	"love":         2.5,
	"loved":        2.5,
	"wonderful":    2.7,
	"brilliant":    2.6,
	"perfect":      2.7,
	"incredible":   2.6,
	"outstanding":  2.7,

	// mildly positive
	"good":      1.8,
	"great":     2.2,
	"nice":      1.5,
	"happy":     1.9,
	"glad":      1.6,
	"like":      1.2,
	"enjoy":     1.7,
	"enjoyed":   1.7,
	"helpful":   1.6,
	"proud":     1.8,
	"relieved":  1.4,
	"hopeful":   1.3,
	"fun":       1.6,
	"thanks":    1.2,
	"thank":     1.2,
	"grateful":  1.9,
	"supportive": 1.5,

	// mildly negative
	"bad":        -1.8,
	"sad":        -1.9,
	"upset":      -1.8,
	"annoyed":    -1.4,
	"annoying":   -1.5,
	"tired":      -1.0,
	"stressed":   -1.7,
	"worried":    -1.5,
	"anxious":    -1.7,
	"lonely":     -1.8,
	"difficult":  -1.2,
	"hard":       -0.8,
	"confused":   -1.1,
	"disappointed": -1.7,
	"frustrating": -1.7,
	"frustrated":  -1.7,

	// strongly negative
	"hate":        -2.7,
	"hated":       -2.7,
	"terrible":    -2.8,
	"awful":       -2.8,
	"horrible":    -2.8,
	"miserable":   -2.6,
	"hopeless":    -2.9,
	"worthless":   -2.9,
	"depressed":   -2.6,
	"devastated":  -2.7,
	"suicide":     -3.0,
	"suicidal":    -3.0,
	"worst":       -2.6,
	"disgusting":  -2.5,
	"overwhelmed": -2.0,
	"failing":     -2.0,
	"failed":      -1.9,
	"expelled":    -2.3,
	"harassed":    -2.3,
	"threatened":  -2.4,
	"stalked":     -2.4,
	"breakdown":   -2.4,
}

// negators, when found within the preceding window, invert the sign of a
// content token's contribution.
var negators = map[string]bool{
	"not":    true,
	"no":     true,
	"never":  true,
	"cannot": true,
}

// intensifiers multiply the magnitude of the content token that follows
// them.
var intensifiers = map[string]float64{
	"very":      1.5,
	"extremely": 1.5,
	"really":    1.5,
	"so":        1.3,
	"totally":   1.4,
}

// isNegator reports whether tok is a negator, including the "n't" suffix
// form ("didn't", "couldn't", ...).
func isNegator(tok string) bool {
	if negators[tok] {
		return true
	}
	return len(tok) > 3 && tok[len(tok)-3:] == "n't"
}
