// Package moderation masks censored words in outbound chat content.
package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Moderator searches message content for forbidden patterns with an
// Aho-Corasick automaton built once at startup. Matching runs on a
// normalized view of the text (lowercased, leet speak folded, punctuation
// and spacing stripped) while replacement applies to the original runes,
// so spacing and case tricks do not defeat the filter.
type Moderator struct {
	machine     *goahocorasick.Machine
	replacement rune
}

func NewModerator(words []string, replacement rune) (*Moderator, error) {
	patterns := make([][]rune, len(words))
	for i, w := range words {
		normalized, _ := normalize([]rune(w))
		patterns[i] = normalized
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Moderator{machine: m, replacement: replacement}, nil
}

// Censor replaces every matched span of the original text with the
// replacement rune, preserving length and spacing.
func (m *Moderator) Censor(original string) string {
	origRunes := []rune(original)
	normalized, origIdx := normalize(origRunes)
	if len(normalized) == 0 {
		return original
	}

	spans := m.machine.MultiPatternSearch(normalized, false)
	if len(spans) == 0 {
		return original
	}

	for _, span := range spans {
		start := span.Pos
		end := start + len(span.Word)
		if start < 0 || end > len(origIdx) {
			continue
		}
		for i := origIdx[start]; i <= origIdx[end-1]; i++ {
			origRunes[i] = m.replacement
		}
	}
	return string(origRunes)
}

// normalize lowercases and folds the input while recording, for each kept
// rune, its index in the original slice.
func normalize(input []rune) ([]rune, []int) {
	norm := make([]rune, 0, len(input))
	idx := make([]int, 0, len(input))
	for i, r := range input {
		folded := foldLeet(r)
		if unicode.IsPunct(folded) || unicode.IsSpace(folded) || unicode.IsSymbol(folded) {
			continue
		}
		norm = append(norm, unicode.ToLower(folded))
		idx = append(idx, i)
	}
	return norm, idx
}

// foldLeet maps common leet-speak substitutions back to letters.
func foldLeet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}
