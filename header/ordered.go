// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package header

import "strings"

// Ordered is an ordered mapping from header name to values.
// The zero value is an empty mapping ready to use.
type Ordered struct {
	names  []string
	values map[string][]string
}

// NewOrdered returns an Ordered initialized with the given fields,
// which are applied with [Ordered.Add] in order.
func NewOrdered(fields ...Field) *Ordered {
	o := &Ordered{}
	for _, f := range fields {
		o.Add(f.Name, f.Value)
	}
	return o
}

// Values implements the [Header] interface.
func (o *Ordered) Values(key string) ([]string, bool) {
	vs, ok := o.values[strings.ToLower(key)]
	return vs, ok
}

// Set implements the [Header] interface. Setting a name which is already
// present keeps its original position and spelling.
func (o *Ordered) Set(key string, values ...string) {
	folded := strings.ToLower(key)
	if o.values == nil {
		o.values = make(map[string][]string)
	}
	if _, ok := o.values[folded]; !ok {
		o.names = append(o.names, key)
	}
	o.values[folded] = append([]string(nil), values...)
}

// Add appends value to the values stored under key.
func (o *Ordered) Add(key, value string) {
	vs, _ := o.Values(key)
	o.Set(key, append(vs, value)...)
}

// Del removes key entirely.
func (o *Ordered) Del(key string) {
	folded := strings.ToLower(key)
	if _, ok := o.values[folded]; !ok {
		return
	}
	delete(o.values, folded)
	for i, name := range o.names {
		if strings.ToLower(name) == folded {
			o.names = append(o.names[:i], o.names[i+1:]...)
			return
		}
	}
}

// Len returns the number of distinct header names.
func (o *Ordered) Len() int {
	return len(o.names)
}

// Walk implements the [Walker] interface.
func (o *Ordered) Walk(f func(string, []string)) {
	for _, name := range o.names {
		f(name, o.values[strings.ToLower(name)])
	}
}
