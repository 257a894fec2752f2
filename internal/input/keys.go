package input

import (
	"fmt"
	"strings"
)

// Linux evdev key codes, from input-event-codes.h.
const (
	KeyEsc        uint16 = 1
	KeyMinus      uint16 = 12
	KeyEqual      uint16 = 13
	KeyBackspace  uint16 = 14
	KeyTab        uint16 = 15
	KeyLeftBrace  uint16 = 26
	KeyRightBrace uint16 = 27
	KeyEnter      uint16 = 28
	KeyLeftCtrl   uint16 = 29
	KeySemicolon  uint16 = 39
	KeyApostrophe uint16 = 40
	KeyGrave      uint16 = 41
	KeyLeftShift  uint16 = 42
	KeyBackslash  uint16 = 43
	KeyComma      uint16 = 51
	KeyDot        uint16 = 52
	KeySlash      uint16 = 53
	KeyRightShift uint16 = 54
	KeyLeftAlt    uint16 = 56
	KeySpace      uint16 = 57
	KeyCapsLock   uint16 = 58
	KeyNumLock    uint16 = 69
	KeyScrollLock uint16 = 70
	KeyF11        uint16 = 87
	KeyF12        uint16 = 88
	KeyRightCtrl  uint16 = 97
	KeyPrint      uint16 = 99
	KeyRightAlt   uint16 = 100
	KeyHome       uint16 = 102
	KeyUp         uint16 = 103
	KeyPageUp     uint16 = 104
	KeyLeft       uint16 = 105
	KeyRight      uint16 = 106
	KeyEnd        uint16 = 107
	KeyDown       uint16 = 108
	KeyPageDown   uint16 = 109
	KeyInsert     uint16 = 110
	KeyDelete     uint16 = 111
	KeyPause      uint16 = 119
	KeyLeftMeta   uint16 = 125
	KeyRightMeta  uint16 = 126
	KeyCompose    uint16 = 127
)

// Modifiers is a bit set of held modifier keys. Left and right variants are
// not distinguished.
type Modifiers uint8

const (
	ModShift Modifiers = 1 << iota
	ModCtrl
	ModAlt
	ModSuper
)

func (m Modifiers) String() string {
	var parts []string
	if m&ModCtrl != 0 {
		parts = append(parts, "Ctrl")
	}
	if m&ModAlt != 0 {
		parts = append(parts, "Alt")
	}
	if m&ModShift != 0 {
		parts = append(parts, "Shift")
	}
	if m&ModSuper != 0 {
		parts = append(parts, "Super")
	}
	return strings.Join(parts, "+")
}

var keyNames = buildKeyNames()

func buildKeyNames() map[string]uint16 {
	names := map[string]uint16{
		"esc": KeyEsc, "escape": KeyEsc,
		"minus": KeyMinus, "-": KeyMinus,
		"equal": KeyEqual, "=": KeyEqual,
		"backspace": KeyBackspace,
		"tab":       KeyTab,
		"[":         KeyLeftBrace, "]": KeyRightBrace,
		"enter": KeyEnter, "return": KeyEnter,
		";": KeySemicolon, "'": KeyApostrophe,
		"grave": KeyGrave, "`": KeyGrave,
		"\\": KeyBackslash,
		",":  KeyComma, ".": KeyDot, "/": KeySlash,
		"space":    KeySpace,
		"capslock": KeyCapsLock, "numlock": KeyNumLock, "scrolllock": KeyScrollLock,
		"print": KeyPrint, "pause": KeyPause,
		"home": KeyHome, "end": KeyEnd,
		"pageup": KeyPageUp, "pagedown": KeyPageDown,
		"insert": KeyInsert, "delete": KeyDelete,
		"up": KeyUp, "down": KeyDown, "left": KeyLeft, "right": KeyRight,
		"menu": KeyCompose,
		"f11":  KeyF11, "f12": KeyF12,
	}

	rows := []struct {
		first uint16
		keys  string
	}{
		{2, "1234567890"},
		{16, "qwertyuiop"},
		{30, "asdfghjkl"},
		{44, "zxcvbnm"},
	}
	for _, row := range rows {
		for i, r := range row.keys {
			names[string(r)] = row.first + uint16(i)
		}
	}
	for i := 0; i < 10; i++ {
		names[fmt.Sprintf("f%d", i+1)] = 59 + uint16(i)
	}
	return names
}

var modifierNames = map[string]Modifiers{
	"ctrl": ModCtrl, "control": ModCtrl,
	"alt":   ModAlt,
	"shift": ModShift,
	"super": ModSuper, "meta": ModSuper, "win": ModSuper,
}

// ModifierFor reports the modifier bit of a key code, or 0 when the key is
// not a modifier.
func ModifierFor(code uint16) Modifiers {
	switch code {
	case KeyLeftCtrl, KeyRightCtrl:
		return ModCtrl
	case KeyLeftAlt, KeyRightAlt:
		return ModAlt
	case KeyLeftShift, KeyRightShift:
		return ModShift
	case KeyLeftMeta, KeyRightMeta:
		return ModSuper
	default:
		return 0
	}
}

// Binding is a toggle shortcut: one primary key plus the exact modifier set.
type Binding struct {
	Key       uint16
	Modifiers Modifiers
	name      string
}

// ParseBinding parses shortcuts such as "Ctrl+Alt+Space" or "Super+D".
func ParseBinding(spec string) (Binding, error) {
	parts := strings.Split(spec, "+")
	var b Binding
	for i, raw := range parts {
		part := strings.ToLower(strings.TrimSpace(raw))
		if part == "" {
			return Binding{}, fmt.Errorf("empty key in shortcut %q", spec)
		}
		if mod, ok := modifierNames[part]; ok && i < len(parts)-1 {
			b.Modifiers |= mod
			continue
		}
		if i != len(parts)-1 {
			return Binding{}, fmt.Errorf("unknown modifier %q in shortcut %q", raw, spec)
		}
		code, ok := keyNames[part]
		if !ok {
			return Binding{}, fmt.Errorf("unknown key %q in shortcut %q", raw, spec)
		}
		b.Key = code
		b.name = strings.TrimSpace(raw)
	}
	return b, nil
}

// Matches reports whether a key press with the given held modifiers triggers
// the binding.
func (b Binding) Matches(code uint16, held Modifiers) bool {
	return b.Key != 0 && code == b.Key && held == b.Modifiers
}

func (b Binding) String() string {
	name := b.name
	if name == "" {
		name = fmt.Sprintf("key%d", b.Key)
	}
	if mods := b.Modifiers.String(); mods != "" {
		return mods + "+" + name
	}
	return name
}

// ModifierTracker follows held modifier keys from press and release events.
type ModifierTracker struct {
	held map[uint16]struct{}
}

func NewModifierTracker() *ModifierTracker {
	return &ModifierTracker{held: make(map[uint16]struct{})}
}

func (t *ModifierTracker) Observe(ev KeyEvent) {
	if ModifierFor(ev.Code) == 0 {
		return
	}
	switch ev.Value {
	case KeyPressed:
		t.held[ev.Code] = struct{}{}
	case KeyReleased:
		delete(t.held, ev.Code)
	}
}

func (t *ModifierTracker) Current() Modifiers {
	var mods Modifiers
	for code := range t.held {
		mods |= ModifierFor(code)
	}
	return mods
}
