// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package header

import "strings"

// Field is a single name/value pair.
type Field struct {
	Name  string
	Value string
}

// Fields is an ordered association sequence of header fields.
type Fields []Field

// Values implements the [Header] interface. All values of fields
// whose name case insensitively equals key are returned in order.
func (fs Fields) Values(key string) ([]string, bool) {
	var vs []string
	found := false
	for _, f := range fs {
		if !strings.EqualFold(f.Name, key) {
			continue
		}
		found = true
		vs = append(vs, f.Value)
	}
	return vs, found
}

// Set implements the [Header] interface. The new fields take the
// position of the first existing field with the same name, or are
// appended if there was none.
func (fs *Fields) Set(key string, values ...string) {
	at := -1
	kept := make(Fields, 0, len(*fs))
	for _, f := range *fs {
		if strings.EqualFold(f.Name, key) {
			if at < 0 {
				at = len(kept)
			}
			continue
		}
		kept = append(kept, f)
	}
	if at < 0 {
		at = len(kept)
	}

	added := make([]Field, len(values))
	for i, v := range values {
		added[i] = Field{Name: key, Value: v}
	}

	out := make(Fields, 0, len(kept)+len(added))
	out = append(out, kept[:at]...)
	out = append(out, added...)
	out = append(out, kept[at:]...)
	*fs = out
}

// Add appends a field without touching existing fields of the same name.
func (fs *Fields) Add(key, value string) {
	*fs = append(*fs, Field{Name: key, Value: value})
}

// Walk implements the [Walker] interface. Repeated names are grouped
// at the position of their first occurrence.
func (fs Fields) Walk(f func(string, []string)) {
	seen := make(map[string]struct{}, len(fs))
	for _, field := range fs {
		folded := strings.ToLower(field.Name)
		if _, ok := seen[folded]; ok {
			continue
		}
		seen[folded] = struct{}{}

		vs, _ := fs.Values(field.Name)
		f(field.Name, vs)
	}
}
