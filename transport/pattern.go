package transport

type itemMode int

const (
	literal itemMode = iota
	star             // *
	single           // ?
	class            // [...]
)

type item struct {
	mode   itemMode
	symbol byte
	// class members, ranges are expanded
	set    [256]bool
	negate bool
}

func (i *item) matches(b byte) bool {
	switch i.mode {
	case literal:
		return i.symbol == b
	case single:
		return true
	case class:
		return i.set[b] != i.negate
	}
	return false
}

// Pattern is a Redis style glob: * ? [abc] [a-z] [^a], \ escapes.
type Pattern struct {
	items []item
}

func ParsePattern(p string) *Pattern {
	items := make([]item, 0, len(p))

	for i := 0; i < len(p); i++ {
		ch := p[i]

		switch ch {
		case '*':
			// Runs of * match the same as one
			if n := len(items); n > 0 && items[n-1].mode == star {
				continue
			}
			items = append(items, item{mode: star})

		case '?':
			items = append(items, item{mode: single})

		case '\\':
			if i+1 < len(p) {
				i++
			}
			items = append(items, item{mode: literal, symbol: p[i]})

		case '[':
			it, next, ok := parseClass(p, i+1)
			if !ok {
				// Unterminated class, '[' is a literal
				items = append(items, item{mode: literal, symbol: ch})
				continue
			}
			items = append(items, it)
			i = next

		default:
			items = append(items, item{mode: literal, symbol: ch})
		}
	}

	return &Pattern{items: items}
}

// parseClass reads a class starting after '[' and returns the index of the
// closing ']'.
func parseClass(p string, i int) (item, int, bool) {
	it := item{mode: class}

	if i < len(p) && p[i] == '^' {
		it.negate = true
		i++
	}

	for ; i < len(p); i++ {
		ch := p[i]

		switch {
		case ch == ']':
			return it, i, true

		case ch == '\\' && i+1 < len(p):
			i++
			it.set[p[i]] = true

		case i+2 < len(p) && p[i+1] == '-' && p[i+2] != ']':
			lo, hi := ch, p[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			for c := int(lo); c <= int(hi); c++ {
				it.set[c] = true
			}
			i += 2

		default:
			it.set[ch] = true
		}
	}

	return it, i, false
}

// Matches reports whether the whole of s matches the pattern.
func (p *Pattern) Matches(s string) bool {
	n := len(p.items)

	// prev[j] means s[:i-1] matches items[:j]
	prev := make([]bool, n+1)
	cur := make([]bool, n+1)

	prev[0] = true
	for j := 1; j <= n; j++ {
		prev[j] = prev[j-1] && p.items[j-1].mode == star
	}

	for i := 1; i <= len(s); i++ {
		cur[0] = false
		for j := 1; j <= n; j++ {
			it := &p.items[j-1]
			if it.mode == star {
				cur[j] = prev[j] || cur[j-1]
			} else {
				cur[j] = prev[j-1] && it.matches(s[i-1])
			}
		}
		prev, cur = cur, prev
	}

	return prev[n]
}
