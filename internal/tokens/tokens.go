package tokens

import "unicode/utf8"

// Counter abstracts token counting; the real counter lives with the model
// provider and is injected where available.
type Counter interface {
	Count(text string) int
}

// Estimator is the fallback counter: roughly one token per four characters,
// never less than one for non-empty text.
type Estimator struct{}

func (Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
