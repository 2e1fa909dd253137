// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package httpvalidate rejects requests before they reach a handler.
// A rejected request never reaches the wrapped handler, so it is not
// timed by any runtime middleware placed inside the validation.
package httpvalidate

import (
	"net/http"
	"strings"
)

// Validator represents an http.Request validator. Validate writes
// the rejection response itself and reports false when the request
// must not be served.
type Validator interface {
	Validate(http.ResponseWriter, *http.Request) bool
}

// ValidatorFunc implements Validator for funcs.
type ValidatorFunc func(http.ResponseWriter, *http.Request) bool

// Validate implements the Validator interface.
func (f ValidatorFunc) Validate(w http.ResponseWriter, r *http.Request) bool {
	return f(w, r)
}

type handler struct {
	validators []Validator
	base       http.Handler
}

// Request wraps h with validators which are applied in order.
func Request(h http.Handler, validators ...Validator) http.Handler {
	if len(validators) == 0 {
		return h
	}
	return &handler{
		validators: validators,
		base:       h,
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	for _, validator := range h.validators {
		if !validator.Validate(w, req) {
			return
		}
	}
	h.base.ServeHTTP(w, req)
}

// ForMethods responds with 405 and an Allow header listing methods
// if the request method is not one of them.
func ForMethods(methods ...string) Validator {
	allow := strings.Join(methods, ", ")
	return ValidatorFunc(func(w http.ResponseWriter, r *http.Request) bool {
		for _, method := range methods {
			if method == r.Method {
				return true
			}
		}
		w.Header().Set("Allow", allow)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	})
}

// MinimumParams responds with 400 unless every one of names is
// present in the query string.
func MinimumParams(names ...string) Validator {
	return ValidatorFunc(func(w http.ResponseWriter, r *http.Request) bool {
		params := r.URL.Query()
		for _, name := range names {
			if !params.Has(name) {
				w.WriteHeader(http.StatusBadRequest)
				return false
			}
		}
		return true
	})
}

// MinProto responds with 505 if the request protocol is older
// than major.minor.
func MinProto(major, minor int) Validator {
	return ValidatorFunc(func(w http.ResponseWriter, r *http.Request) bool {
		if r.ProtoAtLeast(major, minor) {
			return true
		}
		w.WriteHeader(http.StatusHTTPVersionNotSupported)
		return false
	})
}
