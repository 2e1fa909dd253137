// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package header provides response header containers with explicit
// key normalization policies.
//
// Three containers are provided:
//
//   - [Fields]: an association sequence of name/value pairs. Names are
//     compared with [strings.EqualFold] and a name may repeat, which is
//     how a sequence valued header is represented.
//   - [Ordered]: an ordered mapping from name to a sequence of values.
//     Names are folded to lower case for lookup while the spelling that
//     was first used is kept for iteration.
//   - [HTTP]: a view over a [net/http.Header] where names are folded with
//     [net/textproto.CanonicalMIMEHeaderKey].
package header

import (
	"net/http"
	"net/textproto"
)

// Header is the capability a response header container must provide.
type Header interface {
	// Values returns the values stored under key and whether
	// the key is present at all. A present key may map to zero values.
	Values(key string) ([]string, bool)

	// Set replaces every value stored under key with the given values.
	Set(key string, values ...string)
}

// Walker is implemented by containers which can enumerate their contents.
type Walker interface {
	// Walk calls f for every header name, in order, with all of its values.
	Walk(f func(name string, values []string))
}

// IsSet reports whether key is considered set in h. A key is set when
// h holds at least one value for it, regardless of whether the container
// models that value as a scalar or a sequence. An empty string counts as
// a value. A key mapped to a zero length sequence is not set.
func IsSet(h Header, key string) bool {
	vs, ok := h.Values(key)
	return ok && len(vs) > 0
}

// HTTP adapts a [net/http.Header] to the [Header] interface.
type HTTP http.Header

// Values implements the [Header] interface.
func (h HTTP) Values(key string) ([]string, bool) {
	vs, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	return vs, ok
}

// Set implements the [Header] interface.
func (h HTTP) Set(key string, values ...string) {
	h[textproto.CanonicalMIMEHeaderKey(key)] = append([]string(nil), values...)
}

// Walk implements the [Walker] interface. Go maps are unordered so
// names are visited in no particular order.
func (h HTTP) Walk(f func(string, []string)) {
	for name, values := range h {
		f(name, values)
	}
}
