package glob

import "strings"

// Overlap reports whether some slash-separated path could match both
// patterns under MatchPath. The hidden-name rule is ignored, so the
// answer errs towards true.
func Overlap(a, b string) (bool, error) {
	segsA := strings.Split(a, "/")
	segsB := strings.Split(b, "/")

	tokA, err := parseSegments(segsA)
	if err != nil {
		return false, err
	}
	tokB, err := parseSegments(segsB)
	if err != nil {
		return false, err
	}

	type state struct{ i, j int }
	seen := make(map[state]bool)
	var queue []state
	push := func(s state) {
		if !seen[s] {
			seen[s] = true
			queue = append(queue, s)
		}
	}
	isDS := func(segs []string, i int) bool { return i < len(segs) && segs[i] == doubleStarS }

	push(state{})
	for idx := 0; idx < len(queue); idx++ {
		s := queue[idx]
		if s.i == len(segsA) && s.j == len(segsB) {
			return true, nil
		}
		// "**" may match nothing.
		if isDS(segsA, s.i) {
			push(state{s.i + 1, s.j})
		}
		if isDS(segsB, s.j) {
			push(state{s.i, s.j + 1})
		}
		if s.i == len(segsA) || s.j == len(segsB) {
			continue
		}
		// Both sides consume one path segment; "**" may stay put.
		switch dsA, dsB := isDS(segsA, s.i), isDS(segsB, s.j); {
		case dsA && dsB:
			push(state{s.i, s.j + 1})
			push(state{s.i + 1, s.j})
		case dsA:
			push(state{s.i, s.j + 1})
		case dsB:
			push(state{s.i + 1, s.j})
		default:
			if tokensOverlap(tokA[s.i], tokB[s.j]) {
				push(state{s.i + 1, s.j + 1})
			}
		}
	}
	return false, nil
}

// AnyOverlap returns every (a, b) pair from the two lists that overlaps.
func AnyOverlap(as, bs []string) ([][2]string, error) {
	var out [][2]string
	for _, a := range as {
		for _, b := range bs {
			ok, err := Overlap(a, b)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, [2]string{a, b})
			}
		}
	}
	return out, nil
}

func parseSegments(segs []string) ([][]token, error) {
	out := make([][]token, len(segs))
	for i, seg := range segs {
		if seg == doubleStarS {
			continue
		}
		toks, err := segmentDialect.parse(seg)
		if err != nil {
			return nil, err
		}
		out[i] = toks
	}
	return out, nil
}

// tokensOverlap decides whether two single-segment token strings share a
// word, by walking the product automaton.
func tokensOverlap(a, b []token) bool {
	type state struct{ i, j int }
	seen := make(map[state]bool)
	var queue []state

	var add func(s state)
	add = func(s state) {
		if seen[s] {
			return
		}
		seen[s] = true
		queue = append(queue, s)
		if s.i < len(a) && a[s.i].kind == tokenStar {
			add(state{s.i + 1, s.j})
		}
		if s.j < len(b) && b[s.j].kind == tokenStar {
			add(state{s.i, s.j + 1})
		}
	}

	add(state{})
	for idx := 0; idx < len(queue); idx++ {
		s := queue[idx]
		if s.i == len(a) && s.j == len(b) {
			return true
		}
		if s.i == len(a) || s.j == len(b) {
			continue
		}
		nextA, rangesA := consume(a, s.i)
		nextB, rangesB := consume(b, s.j)
		if rangesOverlap(rangesA, rangesB) {
			add(state{nextA, nextB})
		}
	}
	return false
}

func consume(tokens []token, idx int) (int, []runeRange) {
	switch tok := tokens[idx]; tok.kind {
	case tokenStar:
		return idx, segmentDialect.wild
	case tokenLiteral:
		return idx + 1, []runeRange{{lo: tok.lit, hi: tok.lit}}
	default:
		return idx + 1, tok.ranges
	}
}
