package moderation

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// leet maps look-alike characters onto the letter they stand for.
var leet = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
	'á': 'a',
	'é': 'e',
	'í': 'i',
	'ó': 'o',
	'ú': 'u',
	'ü': 'u',
}

// Normalize lower-cases s, folds leetspeak and accents, and drops everything
// that is not a letter.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if mapped, ok := leet[r]; ok {
			r = mapped
		}
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// letterClass returns a regexp class matching r and every character that
// normalizes to it.
func letterClass(r rune) string {
	chars := []rune{r, unicode.ToUpper(r)}
	for from, to := range leet {
		if to == r {
			chars = append(chars, from)
		}
	}
	sort.Slice(chars, func(i, j int) bool { return chars[i] < chars[j] })

	var b strings.Builder
	b.WriteByte('[')
	for _, c := range chars {
		b.WriteString(regexp.QuoteMeta(string(c)))
	}
	b.WriteByte(']')
	return b.String()
}

// separator is what may sit between the letters of a hidden word.
const separator = `[^\p{L}]*?`

type bannedWord struct {
	word    string
	pattern *regexp.Regexp
}

// Filter 脏词过滤，长词优先
type Filter struct {
	words []bannedWord
}

func NewFilter(words []string) *Filter {
	seen := make(map[string]bool)
	f := &Filter{}
	for _, w := range words {
		norm := Normalize(w)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true

		parts := make([]string, 0, len(norm))
		for _, r := range norm {
			parts = append(parts, letterClass(r))
		}
		f.words = append(f.words, bannedWord{
			word:    norm,
			pattern: regexp.MustCompile("(?i)" + strings.Join(parts, separator)),
		})
	}
	sort.SliceStable(f.words, func(i, j int) bool {
		return len([]rune(f.words[i].word)) > len([]rune(f.words[j].word))
	})
	return f
}

// Len returns the number of distinct banned words.
func (f *Filter) Len() int {
	return len(f.words)
}

// Censor replaces every banned word found in msg with asterisks and reports
// whether anything was replaced.
func (f *Filter) Censor(msg string) (string, bool) {
	normalized := Normalize(msg)
	censored := false
	out := msg
	for _, w := range f.words {
		if !strings.Contains(normalized, w.word) {
			continue
		}
		replaced := w.pattern.ReplaceAllStringFunc(out, func(match string) string {
			return strings.Repeat("*", len([]rune(match)))
		})
		if replaced != out {
			censored = true
			out = replaced
		}
	}
	return out, censored
}
