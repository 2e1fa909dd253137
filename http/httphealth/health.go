// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package httphealth exposes health metrics as HTTP endpoints.
package httphealth

import (
	"net/http"

	"github.com/z5labs/xruntime/http/httpvalidate"
	"github.com/z5labs/xruntime/pkg/health"
)

// NewHandler wraps a health.Metric into an http.Handler.
//
// If m.Healthy returns true, then HTTP status code 200 is
// returned, else, HTTP status code 503 is returned. Only GET
// and HEAD requests are accepted.
func NewHandler(m health.Metric) http.Handler {
	var h http.Handler
	if mh, ok := m.(http.Handler); ok {
		h = mh
	} else {
		h = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.Healthy(r.Context()) {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return httpvalidate.Request(h, httpvalidate.ForMethods(http.MethodGet, http.MethodHead))
}
