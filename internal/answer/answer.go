// Package answer normalizes free-form submission text into answer signals.
package answer

import (
	"regexp"
	"strings"
)

// Signal is the semantic classification of a raw answer message.
type Signal int

const (
	// SignalNone marks text that is not an answer. Non-answer chatter in a
	// session channel is not an error, it is simply not scored.
	SignalNone Signal = iota
	SignalAffirmative
	SignalNegative
)

func (s Signal) String() string {
	switch s {
	case SignalAffirmative:
		return "correct"
	case SignalNegative:
		return "wrong"
	}
	return "none"
}

var mentionRe = regexp.MustCompile(`^(<@!?\d+>\s*)+`)

var (
	affirmative = map[string]struct{}{"Y": {}, "C": {}, "+": {}, "YES": {}, "CORRECT": {}}
	negative    = map[string]struct{}{"N": {}, "W": {}, "-": {}, "NO": {}, "WRONG": {}}
)

// Classify maps raw text to a signal. It strips leading mention tokens,
// trims whitespace and uppercases before matching. Total: any input,
// including empty, yields a signal and never an error.
func Classify(raw string) Signal {
	cleaned := strings.ToUpper(strings.TrimSpace(mentionRe.ReplaceAllString(raw, "")))
	if _, ok := affirmative[cleaned]; ok {
		return SignalAffirmative
	}
	if _, ok := negative[cleaned]; ok {
		return SignalNegative
	}
	return SignalNone
}
