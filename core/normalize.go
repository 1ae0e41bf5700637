package core

import "strings"

// ValidValues maps a normalized key to the canonical display value. It is the
// whitelist used to correct free-text fields such as types, ratings and
// action names.
type ValidValues map[string]string

// NormalizeKey lowercases, trims and collapses " - " separators
func NormalizeKey(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(strings.ToLower(s)), " - ", "-")
}

// NewValidValues builds a table whose canonical values are the given names
func NewValidValues(names ...string) ValidValues {
	v := make(ValidValues, len(names))
	for _, name := range names {
		v[NormalizeKey(name)] = name
	}
	return v
}

// Contains reports whether raw normalizes to a known key
func (v ValidValues) Contains(raw string) bool {
	_, ok := v[NormalizeKey(raw)]
	return ok
}

// VerifyField corrects raw to its canonical form. When raw is not in the
// table, def is substituted if non-empty; otherwise ok is false.
func VerifyField(raw string, valid ValidValues, def string) (string, bool) {
	if canonical, ok := valid[NormalizeKey(raw)]; ok {
		return canonical, true
	}
	if def != "" {
		return def, true
	}
	return "", false
}

// VerifyFields corrects every item of a multi-valued field. A single
// unrecoverable item rejects the whole list.
func VerifyFields(raw []string, valid ValidValues, def string) ([]string, bool) {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		v, ok := VerifyField(item, valid, def)
		if !ok {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}
