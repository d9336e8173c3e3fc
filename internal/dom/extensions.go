package dom

import (
	"errors"
	"fmt"
	"strings"
)

// Driver extensions understood on top of W3C CSS:
//
//	:has-text("x")  element text contains x (case-insensitive)
//	:text-is("x")   element text equals x
//	:visible        element is rendered
//	a >> b          b searched inside each match of a
//
// Extensions must trail the compound they qualify, e.g. `button:visible:has-text("Go")`.

var ErrUnsupportedSelector = errors.New("unsupported selector")

const chainSeparator = " >> "

type filterKind int

const (
	filterHasText filterKind = iota + 1
	filterTextIs
	filterVisible
)

type textFilter struct {
	kind filterKind
	arg  string
}

type chainPart struct {
	css     string
	filters []textFilter
}

var pseudoNames = []struct {
	name string
	kind filterKind
	arg  bool
}{
	{"has-text", filterHasText, true},
	{"text-is", filterTextIs, true},
	{"visible", filterVisible, false},
}

// HasDriverExtensions reports whether selector needs more than plain CSS.
func HasDriverExtensions(selector string) bool {
	if IsXPath(selector) {
		return true
	}

	parts, err := parseDriverSelector(selector)
	if err != nil {
		return true
	}

	if len(parts) > 1 {
		return true
	}

	return len(parts[0].filters) > 0
}

// ChecksVisibility reports whether the matches of selector are themselves
// qualified by :visible. Snapshots judge visibility from markup only, so a
// live renderer should confirm each such match.
func ChecksVisibility(selector string) bool {
	if IsXPath(selector) {
		return false
	}

	parts, err := parseDriverSelector(selector)
	if err != nil {
		return false
	}

	for _, f := range parts[len(parts)-1].filters {
		if f.kind == filterVisible {
			return true
		}
	}

	return false
}

// QuoteText quotes s for use as a :has-text/:text-is argument.
func QuoteText(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func parseDriverSelector(selector string) ([]chainPart, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, fmt.Errorf("%w: empty", ErrUnsupportedSelector)
	}

	raw := splitOutside(selector, chainSeparator)
	parts := make([]chainPart, 0, len(raw))

	for _, r := range raw {
		p, err := parsePart(strings.TrimSpace(r))
		if err != nil {
			return nil, err
		}

		parts = append(parts, p)
	}

	return parts, nil
}

func parsePart(s string) (chainPart, error) {
	var part chainPart

	if s == "" {
		return part, fmt.Errorf("%w: empty chain part", ErrUnsupportedSelector)
	}

	cut := -1
	i := 0

	for i < len(s) {
		start := indexOutside(s[i:], ':')
		if start < 0 {
			break
		}

		pos := i + start
		kind, argRequired, nameLen := matchPseudo(s[pos+1:])

		if kind == 0 {
			if cut >= 0 {
				return part, fmt.Errorf("%w: css after driver pseudo in %q", ErrUnsupportedSelector, s)
			}

			i = pos + 1

			continue
		}

		if cut < 0 {
			cut = pos
		} else if strings.TrimSpace(s[i:pos]) != "" {
			return part, fmt.Errorf("%w: css after driver pseudo in %q", ErrUnsupportedSelector, s)
		}

		next := pos + 1 + nameLen
		f := textFilter{kind: kind}

		if argRequired {
			arg, consumed, err := parseQuotedArg(s[next:])
			if err != nil {
				return part, err
			}

			f.arg = arg
			next += consumed
		}

		part.filters = append(part.filters, f)
		i = next
	}

	if cut >= 0 && strings.TrimSpace(s[i:]) != "" {
		return part, fmt.Errorf("%w: css after driver pseudo in %q", ErrUnsupportedSelector, s)
	}

	css := s
	if cut >= 0 {
		css = s[:cut]
	}

	css = strings.TrimSpace(css)

	switch {
	case css == "":
		css = "*"
	case strings.HasSuffix(css, ">"), strings.HasSuffix(css, "+"), strings.HasSuffix(css, "~"):
		css += " *"
	case cut > 0 && s[cut-1] == ' ':
		// `div :visible` qualifies any descendant of div.
		css += " *"
	}

	part.css = css

	return part, nil
}

func matchPseudo(s string) (filterKind, bool, int) {
	for _, p := range pseudoNames {
		if !strings.HasPrefix(s, p.name) {
			continue
		}

		rest := s[len(p.name):]
		if p.arg && strings.HasPrefix(rest, "(") {
			return p.kind, true, len(p.name)
		}

		if !p.arg && (rest == "" || !isIdentChar(rest[0])) {
			return p.kind, false, len(p.name)
		}
	}

	return 0, false, 0
}

// parseQuotedArg parses `("text")` and returns the text and bytes consumed.
func parseQuotedArg(s string) (string, int, error) {
	i := 0
	if i >= len(s) || s[i] != '(' {
		return "", 0, fmt.Errorf("%w: missing argument", ErrUnsupportedSelector)
	}

	i++
	for i < len(s) && s[i] == ' ' {
		i++
	}

	if i >= len(s) || (s[i] != '"' && s[i] != '\'') {
		return "", 0, fmt.Errorf("%w: argument must be quoted", ErrUnsupportedSelector)
	}

	quote := s[i]
	i++

	var b strings.Builder

	for ; i < len(s); i++ {
		c := s[i]

		if c == '\\' && i+1 < len(s) {
			i++
			b.WriteByte(s[i])

			continue
		}

		if c == quote {
			break
		}

		b.WriteByte(c)
	}

	if i >= len(s) {
		return "", 0, fmt.Errorf("%w: unterminated argument", ErrUnsupportedSelector)
	}

	i++
	for i < len(s) && s[i] == ' ' {
		i++
	}

	if i >= len(s) || s[i] != ')' {
		return "", 0, fmt.Errorf("%w: unterminated argument", ErrUnsupportedSelector)
	}

	return b.String(), i + 1, nil
}

// splitOutside splits s on sep, ignoring separators inside quotes, brackets
// or parentheses.
func splitOutside(s, sep string) []string {
	var out []string

	depth := 0
	var quote byte
	last := 0

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			out = append(out, s[last:i])
			i += len(sep) - 1
			last = i + 1
		}
	}

	return append(out, s[last:])
}

// indexOutside finds the first c outside quotes, brackets and parentheses.
func indexOutside(s string, c byte) int {
	depth := 0
	var quote byte

	for i := 0; i < len(s); i++ {
		ch := s[i]

		switch {
		case quote != 0:
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '[' || ch == '(':
			depth++
		case ch == ']' || ch == ')':
			depth--
		case ch == '\\':
			i++
		case depth == 0 && ch == c:
			return i
		}
	}

	return -1
}

func isIdentChar(c byte) bool {
	return c == '-' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
