package export

import "strings"

// ValueFilter drops individual sample values before export, driven by a
// comma-separated rule string. Recognized rules: skip_zero, skip_empty,
// skip_none. Unknown tokens are ignored. Filtering is separate from, and
// applied after, the unconditional rejection of unparseable values.
type ValueFilter struct {
	skipZero  bool
	skipEmpty bool
	skipNone  bool
}

// NewValueFilter parses the rule string once.
func NewValueFilter(rules string) ValueFilter {
	var f ValueFilter
	for _, rule := range strings.Split(rules, ",") {
		switch strings.TrimSpace(rule) {
		case "skip_zero":
			f.skipZero = true
		case "skip_empty":
			f.skipEmpty = true
		case "skip_none":
			f.skipNone = true
		}
	}
	return f
}

// ShouldSkip reports whether the raw value matches any active rule.
func (f ValueFilter) ShouldSkip(raw string) bool {
	if f.skipZero && (raw == "0" || raw == "0.0") {
		return true
	}
	if f.skipEmpty && raw == "" {
		return true
	}
	if f.skipNone {
		switch strings.ToLower(raw) {
		case "none", "null", "n/a":
			return true
		}
	}
	return false
}
