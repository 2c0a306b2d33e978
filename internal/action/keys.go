package action

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
)

type keyDef struct {
	key  string
	code string
	vk   int64
	text string
}

var namedKeys = map[string]keyDef{
	"enter":      {"Enter", "Enter", 13, "\r"},
	"return":     {"Enter", "Enter", 13, "\r"},
	"tab":        {"Tab", "Tab", 9, ""},
	"escape":     {"Escape", "Escape", 27, ""},
	"esc":        {"Escape", "Escape", 27, ""},
	"backspace":  {"Backspace", "Backspace", 8, ""},
	"delete":     {"Delete", "Delete", 46, ""},
	"space":      {" ", "Space", 32, " "},
	"arrowup":    {"ArrowUp", "ArrowUp", 38, ""},
	"arrowdown":  {"ArrowDown", "ArrowDown", 40, ""},
	"arrowleft":  {"ArrowLeft", "ArrowLeft", 37, ""},
	"arrowright": {"ArrowRight", "ArrowRight", 39, ""},
	"up":         {"ArrowUp", "ArrowUp", 38, ""},
	"down":       {"ArrowDown", "ArrowDown", 40, ""},
	"left":       {"ArrowLeft", "ArrowLeft", 37, ""},
	"right":      {"ArrowRight", "ArrowRight", 39, ""},
	"home":       {"Home", "Home", 36, ""},
	"end":        {"End", "End", 35, ""},
	"pageup":     {"PageUp", "PageUp", 33, ""},
	"pagedown":   {"PageDown", "PageDown", 34, ""},
	"insert":     {"Insert", "Insert", 45, ""},
	"f1":         {"F1", "F1", 112, ""},
	"f5":         {"F5", "F5", 116, ""},
	"f12":        {"F12", "F12", 123, ""},
}

var modifierKeys = map[string]struct {
	def keyDef
	bit input.Modifier
}{
	"alt":     {keyDef{"Alt", "AltLeft", 18, ""}, input.ModifierAlt},
	"control": {keyDef{"Control", "ControlLeft", 17, ""}, input.ModifierCtrl},
	"ctrl":    {keyDef{"Control", "ControlLeft", 17, ""}, input.ModifierCtrl},
	"meta":    {keyDef{"Meta", "MetaLeft", 91, ""}, input.ModifierMeta},
	"cmd":     {keyDef{"Meta", "MetaLeft", 91, ""}, input.ModifierMeta},
	"shift":   {keyDef{"Shift", "ShiftLeft", 16, ""}, input.ModifierShift},
}

// chord is one key press with held modifiers, e.g. "Control+Shift+k".
type chord struct {
	mods     []keyDef
	modifier input.Modifier
	key      keyDef
}

// parseKeys splits a space separated sequence of chords.
func parseKeys(keys string) ([]chord, error) {
	var out []chord
	for _, tok := range strings.Fields(keys) {
		parts := strings.Split(tok, "+")
		var c chord
		for i, p := range parts {
			if p == "" {
				return nil, fmt.Errorf("invalid key chord %q", tok)
			}
			last := i == len(parts)-1
			if m, ok := modifierKeys[strings.ToLower(p)]; ok && !last {
				c.mods = append(c.mods, m.def)
				c.modifier |= m.bit
				continue
			}
			if !last {
				return nil, fmt.Errorf("%q is not a modifier in %q", p, tok)
			}
			def, err := lookupKey(p)
			if err != nil {
				return nil, err
			}
			c.key = def
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no keys given")
	}
	return out, nil
}

func lookupKey(name string) (keyDef, error) {
	if def, ok := namedKeys[strings.ToLower(name)]; ok {
		return def, nil
	}
	if m, ok := modifierKeys[strings.ToLower(name)]; ok {
		return m.def, nil
	}
	r := []rune(name)
	if len(r) != 1 {
		return keyDef{}, fmt.Errorf("unknown key %q", name)
	}
	ch := r[0]
	def := keyDef{key: name, text: name}
	switch {
	case ch >= 'a' && ch <= 'z':
		def.code, def.vk = "Key"+strings.ToUpper(name), int64(ch-'a'+'A')
	case ch >= 'A' && ch <= 'Z':
		def.code, def.vk = "Key"+name, int64(ch)
	case ch >= '0' && ch <= '9':
		def.code, def.vk = "Digit"+name, int64(ch)
	}
	return def, nil
}

func keyEvent(typ input.KeyType, def keyDef, mods input.Modifier) *input.DispatchKeyEventParams {
	p := input.DispatchKeyEvent(typ).
		WithKey(def.key).
		WithModifiers(mods)
	if def.code != "" {
		p = p.WithCode(def.code)
	}
	if def.vk != 0 {
		p = p.WithWindowsVirtualKeyCode(def.vk)
	}
	// Text is only produced when no command modifier is held.
	if typ == input.KeyDown && def.text != "" && mods&(input.ModifierCtrl|input.ModifierMeta|input.ModifierAlt) == 0 {
		p = p.WithText(def.text)
	}
	return p
}
