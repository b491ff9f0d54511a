// Package glob parses shell-style path patterns and answers matching and
// overlap questions about them.
//
// Two dialects share one tokenizer. Segment patterns (MatchPath, Overlap)
// never let a wildcard cross '/', and a "**" segment spans zero or more
// directories. Shell patterns (Match) follow fnmatch: '*' and '?' match
// any character including '/'.
package glob

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	MaxTokens    = 50
	MaxWildcards = 10
)

// ErrBadPattern is wrapped by every parse failure.
var ErrBadPattern = errors.New("bad pattern")

type tokenKind int

const (
	tokenLiteral tokenKind = iota
	tokenAny
	tokenStar
	tokenClass
)

type runeRange struct {
	lo rune
	hi rune
}

type token struct {
	kind   tokenKind
	lit    rune
	ranges []runeRange
}

const maxRune = rune(0x10FFFF)

var (
	allRunes    = []runeRange{{lo: 0, hi: maxRune}}
	notSlash    = []runeRange{{lo: 0, hi: '/' - 1}, {lo: '/' + 1, hi: maxRune}}
	doubleStarS = "**"
)

// dialect decides what a wildcard may consume.
type dialect struct {
	wild []runeRange
}

var (
	segmentDialect = dialect{wild: notSlash}
	shellDialect   = dialect{wild: allRunes}
)

// IsPattern reports whether p contains any glob metacharacter.
func IsPattern(p string) bool {
	return strings.ContainsAny(p, "*?[]")
}

// ValidateComplexity parses pattern and rejects it when it exceeds the
// token or wildcard budget.
func ValidateComplexity(pattern string) error {
	tokens, wildcards := 0, 0
	for _, seg := range strings.Split(pattern, "/") {
		if seg == doubleStarS {
			tokens++
			wildcards++
			continue
		}
		toks, err := segmentDialect.parse(seg)
		if err != nil {
			return err
		}
		tokens += len(toks)
		for _, t := range toks {
			if t.kind == tokenStar || t.kind == tokenAny || t.kind == tokenClass {
				wildcards++
			}
		}
	}
	if tokens > MaxTokens {
		return fmt.Errorf("pattern too complex: %d tokens exceeds limit of %d", tokens, MaxTokens)
	}
	if wildcards > MaxWildcards {
		return fmt.Errorf("pattern too complex: %d wildcards exceeds limit of %d", wildcards, MaxWildcards)
	}
	return nil
}

func (d dialect) parse(s string) ([]token, error) {
	runes := []rune(s)
	tokens := make([]token, 0, len(runes))
	for i := 0; i < len(runes); {
		switch ch := runes[i]; ch {
		case '*':
			// Runs of stars collapse; they accept the same language.
			if n := len(tokens); n == 0 || tokens[n-1].kind != tokenStar {
				tokens = append(tokens, token{kind: tokenStar})
			}
			i++
		case '?':
			tokens = append(tokens, token{kind: tokenAny, ranges: d.wild})
			i++
		case '[':
			tok, next, err := d.parseClass(runes, i)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrBadPattern, s, err)
			}
			tokens = append(tokens, tok)
			i = next
		case '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("%w: %q: trailing backslash", ErrBadPattern, s)
			}
			tokens = append(tokens, token{kind: tokenLiteral, lit: runes[i+1]})
			i += 2
		default:
			tokens = append(tokens, token{kind: tokenLiteral, lit: ch})
			i++
		}
	}
	return tokens, nil
}

// parseClass reads a bracket expression starting at runes[start] == '['.
// Both '!' and '^' negate.
func (d dialect) parseClass(runes []rune, start int) (token, int, error) {
	i := start + 1
	negated := false
	if i < len(runes) && (runes[i] == '!' || runes[i] == '^') {
		negated = true
		i++
	}

	var ranges []runeRange
	first := true
	for {
		if i >= len(runes) {
			return token{}, 0, errors.New("unterminated character class")
		}
		if runes[i] == ']' && !first {
			i++
			break
		}
		first = false

		lo, next, err := classRune(runes, i)
		if err != nil {
			return token{}, 0, err
		}
		i = next
		if i+1 < len(runes) && runes[i] == '-' && runes[i+1] != ']' {
			hi, nextHi, err := classRune(runes, i+1)
			if err != nil {
				return token{}, 0, err
			}
			if hi < lo {
				return token{}, 0, fmt.Errorf("reversed range %c-%c", lo, hi)
			}
			ranges = append(ranges, runeRange{lo: lo, hi: hi})
			i = nextHi
			continue
		}
		ranges = append(ranges, runeRange{lo: lo, hi: lo})
	}

	ranges = normalizeRanges(ranges)
	if negated {
		ranges = subtractRanges(d.wild, ranges)
	} else {
		ranges = intersectRanges(ranges, d.wild)
	}
	return token{kind: tokenClass, ranges: ranges}, i, nil
}

func classRune(runes []rune, idx int) (rune, int, error) {
	if idx >= len(runes) {
		return 0, 0, errors.New("unterminated character class")
	}
	if runes[idx] != '\\' {
		return runes[idx], idx + 1, nil
	}
	if idx+1 >= len(runes) {
		return 0, 0, errors.New("trailing backslash in class")
	}
	return runes[idx+1], idx + 2, nil
}

func inRanges(r rune, ranges []runeRange) bool {
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].hi >= r })
	return i < len(ranges) && ranges[i].lo <= r
}

func rangesOverlap(a, b []runeRange) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].hi < b[j].lo:
			i++
		case b[j].hi < a[i].lo:
			j++
		default:
			return true
		}
	}
	return false
}

func intersectRanges(a, b []runeRange) []runeRange {
	a = normalizeRanges(a)
	b = normalizeRanges(b)
	var out []runeRange
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		lo, hi := max(a[i].lo, b[j].lo), min(a[i].hi, b[j].hi)
		if lo <= hi {
			out = append(out, runeRange{lo: lo, hi: hi})
		}
		if a[i].hi < b[j].hi {
			i++
		} else {
			j++
		}
	}
	return out
}

func subtractRanges(base, sub []runeRange) []runeRange {
	var out []runeRange
	for _, b := range normalizeRanges(base) {
		current := []runeRange{b}
		for _, s := range normalizeRanges(sub) {
			var next []runeRange
			for _, c := range current {
				if s.hi < c.lo || s.lo > c.hi {
					next = append(next, c)
					continue
				}
				if s.lo > c.lo {
					next = append(next, runeRange{lo: c.lo, hi: s.lo - 1})
				}
				if s.hi < c.hi {
					next = append(next, runeRange{lo: s.hi + 1, hi: c.hi})
				}
			}
			current = next
			if len(current) == 0 {
				break
			}
		}
		out = append(out, current...)
	}
	return out
}

func normalizeRanges(ranges []runeRange) []runeRange {
	if len(ranges) <= 1 {
		return ranges
	}
	cp := append([]runeRange(nil), ranges...)
	sort.Slice(cp, func(i, j int) bool {
		if cp[i].lo == cp[j].lo {
			return cp[i].hi < cp[j].hi
		}
		return cp[i].lo < cp[j].lo
	})
	out := make([]runeRange, 0, len(cp))
	cur := cp[0]
	for _, rr := range cp[1:] {
		if rr.lo <= cur.hi+1 {
			cur.hi = max(cur.hi, rr.hi)
			continue
		}
		out = append(out, cur)
		cur = rr
	}
	return append(out, cur)
}
