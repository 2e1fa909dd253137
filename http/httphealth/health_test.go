// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package httphealth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/z5labs/xruntime/pkg/health"

	"github.com/stretchr/testify/assert"
)

type healthMetricFunc func(context.Context) bool

func (f healthMetricFunc) Healthy(ctx context.Context) bool {
	return f(ctx)
}

type healthMetricHandler struct {
	health.Metric
	http.Handler
}

func TestNewHandler(t *testing.T) {
	t.Run("will serve with health.Metric", func(t *testing.T) {
		t.Run("if it implements http.Handler", func(t *testing.T) {
			m := healthMetricHandler{
				Metric: healthMetricFunc(func(ctx context.Context) bool {
					return true
				}),
				Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusAccepted)
				}),
			}

			h := NewHandler(m)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)

			h.ServeHTTP(w, req)
			if !assert.Equal(t, http.StatusAccepted, w.Result().StatusCode) {
				return
			}
		})
	})

	t.Run("will return 200", func(t *testing.T) {
		t.Run("if health.Metric.Healthy returns true", func(t *testing.T) {
			m := healthMetricFunc(func(ctx context.Context) bool {
				return true
			})

			h := NewHandler(m)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)

			h.ServeHTTP(w, req)
			if !assert.Equal(t, http.StatusOK, w.Result().StatusCode) {
				return
			}
		})
	})

	t.Run("will return 503", func(t *testing.T) {
		t.Run("if health.Metric.Healthy returns false", func(t *testing.T) {
			m := healthMetricFunc(func(ctx context.Context) bool {
				return false
			})

			h := NewHandler(m)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)

			h.ServeHTTP(w, req)
			if !assert.Equal(t, http.StatusServiceUnavailable, w.Result().StatusCode) {
				return
			}
		})
	})

	t.Run("will return 405", func(t *testing.T) {
		t.Run("if the request method is not GET or HEAD", func(t *testing.T) {
			h := NewHandler(&health.Readiness{})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)

			h.ServeHTTP(w, req)
			if !assert.Equal(t, http.StatusMethodNotAllowed, w.Result().StatusCode) {
				return
			}
		})
	})

	t.Run("will accept HEAD", func(t *testing.T) {
		m := &health.Readiness{}
		m.Ready()
		h := NewHandler(m)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodHead, "http://example.com", nil)

		h.ServeHTTP(w, req)
		if !assert.Equal(t, http.StatusOK, w.Result().StatusCode) {
			return
		}
	})
}
