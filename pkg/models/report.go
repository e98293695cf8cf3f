package models

// ReportEntry is one decoded line of a JSON-Lines report. Entries are
// heterogeneous (init, start_run setup, attempt, eval, digest, completion)
// so they stay schemaless; helpers below cover the common lookups.
type ReportEntry map[string]any

// EntryType returns the entry_type field, or "".
func (e ReportEntry) EntryType() string {
	s, _ := e["entry_type"].(string)
	return s
}

// String returns the named field as a string, or "".
func (e ReportEntry) String(key string) string {
	s, _ := e[key].(string)
	return s
}

// Int returns the named field as an int. JSON numbers decode as float64.
func (e ReportEntry) Int(key string) int {
	switch v := e[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Float returns the named field as a float64.
func (e ReportEntry) Float(key string) float64 {
	switch v := e[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Map returns the named field as a nested object, or nil.
func (e ReportEntry) Map(key string) map[string]any {
	m, _ := e[key].(map[string]any)
	return m
}

// Slice returns the named field as a JSON array, or nil.
func (e ReportEntry) Slice(key string) []any {
	s, _ := e[key].([]any)
	return s
}

// StringSlice returns the named field as a []string, skipping non-strings.
func (e ReportEntry) StringSlice(key string) []string {
	raw, ok := e[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
