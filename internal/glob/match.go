package glob

import "strings"

// Match reports whether name matches pattern with fnmatch semantics:
// '*' and '?' match any character, '/' included. A pattern that does not
// parse only matches itself.
func Match(pattern, name string) bool {
	tokens, err := shellDialect.parse(pattern)
	if err != nil {
		return pattern == name
	}
	return matchTokens(tokens, name, shellDialect.wild)
}

// MatchPath reports whether the slash-separated path matches pattern
// segment by segment. "**" spans zero or more segments. Wildcards never
// match a segment starting with '.' unless the pattern segment does too.
func MatchPath(pattern, path string) (bool, error) {
	psegs := strings.Split(pattern, "/")
	compiled := make([][]token, len(psegs))
	for i, seg := range psegs {
		if seg == doubleStarS {
			continue
		}
		toks, err := segmentDialect.parse(seg)
		if err != nil {
			return false, err
		}
		compiled[i] = toks
	}
	return matchSegments(psegs, compiled, strings.Split(path, "/")), nil
}

func matchSegments(psegs []string, compiled [][]token, names []string) bool {
	// cur[i] means pattern segments [0,i) consumed the names seen so far.
	cur := make([]bool, len(psegs)+1)
	cur[0] = true
	closeDoubleStar(psegs, cur)
	for _, name := range names {
		next := make([]bool, len(psegs)+1)
		alive := false
		for i := range psegs {
			if !cur[i] {
				continue
			}
			if psegs[i] == doubleStarS {
				if !hidden(name) {
					next[i] = true
					alive = true
				}
				continue
			}
			if segmentMatches(psegs[i], compiled[i], name) {
				next[i+1] = true
				alive = true
			}
		}
		if !alive {
			return false
		}
		closeDoubleStar(psegs, next)
		cur = next
	}
	return cur[len(psegs)]
}

// closeDoubleStar lets "**" match zero segments.
func closeDoubleStar(psegs []string, set []bool) {
	for i := range psegs {
		if set[i] && psegs[i] == doubleStarS {
			set[i+1] = true
		}
	}
}

func segmentMatches(pattern string, toks []token, name string) bool {
	if hidden(name) && IsPattern(pattern) && !strings.HasPrefix(pattern, ".") {
		return false
	}
	return matchTokens(toks, name, segmentDialect.wild)
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// matchTokens simulates the token NFA over s. Positions are token
// indexes; a star position stays put while it consumes.
func matchTokens(tokens []token, s string, wild []runeRange) bool {
	cur := make([]bool, len(tokens)+1)
	cur[0] = true
	closeStars(tokens, cur)
	for _, r := range s {
		next := make([]bool, len(tokens)+1)
		alive := false
		for p, tok := range tokens {
			if !cur[p] {
				continue
			}
			switch tok.kind {
			case tokenStar:
				if inRanges(r, wild) {
					next[p] = true
					alive = true
				}
			case tokenLiteral:
				if r == tok.lit {
					next[p+1] = true
					alive = true
				}
			default:
				if inRanges(r, tok.ranges) {
					next[p+1] = true
					alive = true
				}
			}
		}
		if !alive {
			return false
		}
		closeStars(tokens, next)
		cur = next
	}
	return cur[len(tokens)]
}

func closeStars(tokens []token, set []bool) {
	for p, tok := range tokens {
		if set[p] && tok.kind == tokenStar {
			set[p+1] = true
		}
	}
}

// StaticPrefix returns the leading directory segments of pattern that
// contain no metacharacters, joined with '/'. Walking can start there.
func StaticPrefix(pattern string) string {
	segs := strings.Split(pattern, "/")
	var out []string
	for _, seg := range segs[:len(segs)-1] {
		if IsPattern(seg) || strings.Contains(seg, `\`) {
			break
		}
		out = append(out, seg)
	}
	return strings.Join(out, "/")
}
