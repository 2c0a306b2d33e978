package action

import (
	"fmt"
	"strconv"
	"strings"
)

// Selector identifies the element an action targets. The concrete types are
// CSS, Text, Coordinates and Focused; switch on them exhaustively.
type Selector interface {
	isSelector()
	String() string
}

// CSS matches document.querySelectorAll(Pattern)[Nth]. A negative Nth counts
// from the end.
type CSS struct {
	Pattern string
	Nth     int
}

// Text matches the deepest visible elements containing Needle.
type Text struct {
	Needle string
	Nth    int
}

// Coordinates targets whatever element is at a viewport point.
type Coordinates struct {
	X, Y float64
}

// Focused targets document.activeElement.
type Focused struct{}

func (CSS) isSelector()         {}
func (Text) isSelector()        {}
func (Coordinates) isSelector() {}
func (Focused) isSelector()     {}

const (
	textPrefix   = "text:"
	focusedToken = "@focused"
	nthSep       = " >> nth="
)

func (s CSS) String() string  { return withNth(s.Pattern, s.Nth) }
func (s Text) String() string { return withNth(textPrefix+s.Needle, s.Nth) }
func (s Coordinates) String() string {
	return strconv.FormatFloat(s.X, 'f', -1, 64) + "," + strconv.FormatFloat(s.Y, 'f', -1, 64)
}
func (Focused) String() string { return focusedToken }

func withNth(s string, nth int) string {
	if nth == 0 {
		return s
	}
	return s + nthSep + strconv.Itoa(nth)
}

// ParseSelector reads the command-line selector grammar:
//
//	text:<needle>   Text
//	<x>,<y>         Coordinates
//	@focused        Focused
//	anything else   CSS
//
// A trailing " >> nth=N" sets the index; otherwise nth is used.
func ParseSelector(raw string, nth int) (Selector, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("empty selector")
	}
	if i := strings.LastIndex(s, nthSep); i >= 0 {
		n, err := strconv.Atoi(strings.TrimSpace(s[i+len(nthSep):]))
		if err != nil {
			return nil, fmt.Errorf("bad nth in selector %q: %w", raw, err)
		}
		s, nth = strings.TrimSpace(s[:i]), n
	}

	switch {
	case s == focusedToken:
		return Focused{}, nil
	case strings.HasPrefix(s, textPrefix):
		needle := strings.TrimPrefix(s, textPrefix)
		if needle == "" {
			return nil, fmt.Errorf("empty text selector")
		}
		return Text{Needle: needle, Nth: nth}, nil
	}
	if x, y, ok := parseCoords(s); ok {
		return Coordinates{X: x, Y: y}, nil
	}
	return CSS{Pattern: s, Nth: nth}, nil
}

// ParseCoords parses "x,y".
func ParseCoords(s string) (Coordinates, error) {
	x, y, ok := parseCoords(s)
	if !ok {
		return Coordinates{}, fmt.Errorf("invalid coordinates %q, want x,y", s)
	}
	return Coordinates{X: x, Y: y}, nil
}

func parseCoords(s string) (float64, float64, bool) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, false
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}

// Describe renders a selector for messages and records; nil renders empty.
func Describe(s Selector) string {
	if s == nil {
		return ""
	}
	return s.String()
}
