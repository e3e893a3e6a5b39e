package remotedesktop

import (
	"sort"
	"strings"
)

// defaultKeys maps lowercased DOM key names to input backend key names.
var defaultKeys = map[string]string{
	"enter":      "enter",
	"escape":     "escape",
	"tab":        "tab",
	"backspace":  "backspace",
	"delete":     "delete",
	"control":    "ctrl",
	"ctrl":       "ctrl",
	"shift":      "shift",
	"alt":        "alt",
	"meta":       "cmd",
	"arrowup":    "up",
	"arrowdown":  "down",
	"arrowleft":  "left",
	"arrowright": "right",
	"space":      "space",
	"home":       "home",
	"end":        "end",
	"pageup":     "pageup",
	"pagedown":   "pagedown",
	"insert":     "insert",
	"capslock":   "capslock",
	"f1":         "f1",
	"f2":         "f2",
	"f3":         "f3",
	"f4":         "f4",
	"f5":         "f5",
	"f6":         "f6",
	"f7":         "f7",
	"f8":         "f8",
	"f9":         "f9",
	"f10":        "f10",
	"f11":        "f11",
	"f12":        "f12",
}

// KeyTable resolves symbolic key names case-insensitively. It is immutable
// after construction and safe for concurrent use.
type KeyTable struct {
	keys map[string]string
}

// NewKeyTable builds a table from name -> backend key pairs. A nil map gives
// an empty table, in which every key falls back to typed text.
func NewKeyTable(keys map[string]string) *KeyTable {
	t := &KeyTable{keys: make(map[string]string, len(keys))}
	for name, code := range keys {
		t.keys[strings.ToLower(name)] = code
	}
	return t
}

// DefaultKeyTable returns the table for browser key names.
func DefaultKeyTable() *KeyTable {
	return NewKeyTable(defaultKeys)
}

// Lookup resolves name to a backend key.
func (t *KeyTable) Lookup(name string) (string, bool) {
	if t == nil || name == "" {
		return "", false
	}
	code, ok := t.keys[strings.ToLower(name)]
	return code, ok
}

// Codes returns every distinct backend key in the table, sorted.
func (t *KeyTable) Codes() []string {
	if t == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(t.keys))
	codes := make([]string, 0, len(t.keys))
	for _, code := range t.keys {
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Len returns the number of names in the table.
func (t *KeyTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}
