package resilience

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/neboloop/domguard/internal/action"
)

var (
	idToken    = regexp.MustCompile(`#([A-Za-z0-9_-]+)`)
	classToken = regexp.MustCompile(`\.([A-Za-z0-9_-]+)`)
	attrBlock  = regexp.MustCompile(`\[[^\]]*\]`)
	textAttr   = regexp.MustCompile(`\[(?:aria-label|title|placeholder|value|alt)\s*[*^$~|]?=\s*["']([^"']+)["']\]`)
)

// Alternatives derives looser selectors for a CSS selector, most specific
// first. Only the last compound selector is considered.
func Alternatives(sel action.Selector) []action.Selector {
	css, ok := sel.(action.CSS)
	if !ok {
		return nil
	}
	last := lastCompound(css.Pattern)
	var out []action.Selector
	seen := map[string]bool{css.Pattern: true}
	add := func(s action.Selector) {
		if !seen[s.String()] {
			seen[s.String()] = true
			out = append(out, s)
		}
	}

	bare := attrBlock.ReplaceAllString(last, "")
	if m := idToken.FindStringSubmatch(bare); m != nil {
		add(action.CSS{Pattern: fmt.Sprintf(`[id="%s"]`, m[1]), Nth: css.Nth})
		add(action.CSS{Pattern: fmt.Sprintf(`[id*="%s"]`, m[1]), Nth: css.Nth})
	}
	for _, m := range classToken.FindAllStringSubmatch(bare, -1) {
		add(action.CSS{Pattern: fmt.Sprintf(`[class*="%s"]`, m[1]), Nth: css.Nth})
	}
	if m := textAttr.FindStringSubmatch(last); m != nil {
		add(action.Text{Needle: m[1], Nth: css.Nth})
	}
	return out
}

// lastCompound returns the part of a selector after its last combinator,
// ignoring combinators inside attribute brackets.
func lastCompound(pattern string) string {
	depth, cut := 0, 0
	for i, r := range pattern {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case ' ', '>', '+', '~':
			if depth == 0 {
				cut = i + 1
			}
		}
	}
	return strings.TrimSpace(pattern[cut:])
}
