// Package moderation masks blocked words in message content before it is stored.
package moderation

import (
	"chat-relay/contract"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

var _ contract.IContentFilter = (*Filter)(nil)

// Filter matches every blocked word in one pass with an Aho-Corasick automaton.
// Matching ignores case, punctuation, spacing and common leet substitutions.
type Filter struct {
	machine *goahocorasick.Machine
	mask    rune
}

// folded is content reduced to matchable runes, with the position of each in the original.
type folded struct {
	runes []rune
	pos   []int
}

func NewFilter(words []string, mask rune) (*Filter, error) {
	var patterns [][]rune
	for _, word := range words {
		if p := fold(word).runes; len(p) > 0 {
			patterns = append(patterns, p)
		}
	}
	patterns = lo.UniqBy(patterns, func(p []rune) string { return string(p) })
	if len(patterns) == 0 {
		return &Filter{mask: mask}, nil
	}
	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Filter{machine: m, mask: mask}, nil
}

// ParseWords splits a comma separated list, dropping blanks.
func ParseWords(list string) []string {
	var words []string
	for _, w := range strings.Split(list, ",") {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// Mask replaces each matched span of content, noise inside the span included.
// It reports whether anything was replaced.
func (f *Filter) Mask(content string) (string, bool) {
	if f.machine == nil || content == "" {
		return content, false
	}
	text := fold(content)
	if len(text.runes) == 0 {
		return content, false
	}
	hits := f.machine.MultiPatternSearch(text.runes, false)
	if len(hits) == 0 {
		return content, false
	}

	out := []rune(content)
	for _, hit := range hits {
		end := hit.Pos + len(hit.Word)
		if hit.Pos < 0 || end > len(text.pos) {
			continue
		}
		for i := text.pos[hit.Pos]; i <= text.pos[end-1]; i++ {
			out[i] = f.mask
		}
	}
	return string(out), true
}

func fold(s string) folded {
	src := []rune(s)
	f := folded{runes: make([]rune, 0, len(src)), pos: make([]int, 0, len(src))}
	for i, r := range src {
		r = unleet(r)
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		f.runes = append(f.runes, unicode.ToLower(r))
		f.pos = append(f.pos, i)
	}
	return f
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
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
