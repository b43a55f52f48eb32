package context

import "math"

// CountFunc asks a provider for its native token count of text. It
// returns ok=false when the provider doesn't support counting or the
// call failed, in which case the caller falls back to the character
// estimate silently.
type CountFunc func(text string) (tokens int, ok bool)

// Estimator approximates how many tokens a string will cost once sent to
// a provider. Providers that expose a native counter are preferred;
// otherwise length-in-characters over charsPerToken, inflated by
// safetyMargin, stands in for it.
type Estimator struct {
	CharsPerToken float64
	SafetyMargin  float64
	Count         CountFunc
}

// NewEstimator builds an Estimator, defaulting charsPerToken to 4 and
// safetyMargin to 1.1 when given a non-positive value. count may be nil.
func NewEstimator(charsPerToken, safetyMargin float64, count CountFunc) *Estimator {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	if safetyMargin <= 0 {
		safetyMargin = 1.1
	}
	return &Estimator{CharsPerToken: charsPerToken, SafetyMargin: safetyMargin, Count: count}
}

// Estimate returns the token cost of text, ceiling-rounded.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	if e.Count != nil {
		if n, ok := e.Count(text); ok {
			return n
		}
	}
	chars := float64(len([]rune(text)))
	return int(math.Ceil(chars / e.CharsPerToken * e.SafetyMargin))
}

// MaxChars returns the largest character length whose character-based
// estimate stays at or under budget tokens. Used to size a truncation
// cut before re-checking the real estimate (which may consult Count).
func (e *Estimator) MaxChars(budget int) int {
	if budget <= 0 {
		return 0
	}
	return int(float64(budget) * e.CharsPerToken / e.SafetyMargin)
}
