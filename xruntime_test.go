// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package xruntime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/z5labs/xruntime/header"

	"github.com/stretchr/testify/assert"
)

var runtimePattern = regexp.MustCompile(`^\d+\.\d+$`)

type tickClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

func helloWorld(h header.Header) HandlerFunc {
	return func(ctx context.Context, env Env) (Response, error) {
		return Response{
			Status: http.StatusOK,
			Header: h,
			Body:   strings.NewReader("Hello, World!"),
		}, nil
	}
}

func headerValue(t *testing.T, h header.Header, key string) string {
	t.Helper()
	vs, ok := h.Values(key)
	if !assert.True(t, ok, "expected header %s to be present", key) {
		return ""
	}
	if !assert.Len(t, vs, 1) {
		return ""
	}
	return vs[0]
}

func TestRuntime_Handle(t *testing.T) {
	t.Run("will set X-Runtime", func(t *testing.T) {
		t.Run("if the headers are an association sequence", func(t *testing.T) {
			rt := New(helloWorld(&header.Fields{{Name: "Content-Type", Value: "text/plain"}}))

			resp, err := rt.Handle(context.Background(), Env{})
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Regexp(t, runtimePattern, headerValue(t, resp.Header, "X-Runtime")) {
				return
			}
		})

		t.Run("if the headers are an ordered mapping", func(t *testing.T) {
			h := header.NewOrdered(header.Field{Name: "Content-Type", Value: "text/plain"})
			rt := New(helloWorld(h))

			resp, err := rt.Handle(context.Background(), Env{})
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Regexp(t, runtimePattern, headerValue(t, resp.Header, "X-Runtime")) {
				return
			}
		})

		t.Run("if the headers are a net/http header", func(t *testing.T) {
			hh := http.Header{"Content-Type": {"text/plain"}}
			rt := New(helloWorld(header.HTTP(hh)))

			_, err := rt.Handle(context.Background(), Env{})
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Regexp(t, runtimePattern, hh.Get("X-Runtime")) {
				return
			}
		})

		t.Run("if the downstream handler returns no header container", func(t *testing.T) {
			rt := New(helloWorld(nil))

			resp, err := rt.Handle(context.Background(), Env{})
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Regexp(t, runtimePattern, headerValue(t, resp.Header, "X-Runtime")) {
				return
			}
		})

		t.Run("if the net/http header is nil", func(t *testing.T) {
			var hh http.Header
			rt := New(helloWorld(header.HTTP(hh)))

			var resp Response
			var err error
			if !assert.NotPanics(t, func() { resp, err = rt.Handle(context.Background(), Env{}) }) {
				return
			}
			if !assert.Nil(t, err) {
				return
			}
			if !assert.IsType(t, header.HTTP{}, resp.Header) {
				return
			}
			if !assert.Regexp(t, runtimePattern, headerValue(t, resp.Header, "X-Runtime")) {
				return
			}
		})

		t.Run("if the existing key maps to an empty sequence", func(t *testing.T) {
			h := &header.Ordered{}
			h.Set("X-Runtime")
			rt := New(helloWorld(h))

			resp, err := rt.Handle(context.Background(), Env{})
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Regexp(t, runtimePattern, headerValue(t, resp.Header, "X-Runtime")) {
				return
			}
		})
	})

	t.Run("will not overwrite X-Runtime", func(t *testing.T) {
		t.Run("if it is already set", func(t *testing.T) {
			h := &header.Fields{
				{Name: "Content-Type", Value: "text/plain"},
				{Name: "X-Runtime", Value: "foobar"},
			}
			rt := New(helloWorld(h))

			resp, err := rt.Handle(context.Background(), Env{})
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, "foobar", headerValue(t, resp.Header, "X-Runtime")) {
				return
			}
		})

		t.Run("if it is already set with different casing", func(t *testing.T) {
			h := header.NewOrdered(header.Field{Name: "x-runtime", Value: "foobar"})
			rt := New(helloWorld(h))

			resp, err := rt.Handle(context.Background(), Env{})
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, "foobar", headerValue(t, resp.Header, "X-Runtime")) {
				return
			}
		})

		t.Run("if it is already set to a sequence", func(t *testing.T) {
			h := header.NewOrdered(
				header.Field{Name: "X-Runtime", Value: "a"},
				header.Field{Name: "X-Runtime", Value: "b"},
			)
			rt := New(helloWorld(h))

			resp, err := rt.Handle(context.Background(), Env{})
			if !assert.Nil(t, err) {
				return
			}
			vs, _ := resp.Header.Values("X-Runtime")
			if !assert.Equal(t, []string{"a", "b"}, vs) {
				return
			}
		})
	})

	t.Run("will set the suffixed key", func(t *testing.T) {
		t.Run("if a suffix is given", func(t *testing.T) {
			rt := New(helloWorld(&header.Fields{}), Suffix("Test"))

			resp, err := rt.Handle(context.Background(), Env{})
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Regexp(t, runtimePattern, headerValue(t, resp.Header, "X-Runtime-Test")) {
				return
			}
			if !assert.False(t, header.IsSet(resp.Header, "X-Runtime")) {
				return
			}
		})
	})

	t.Run("will report a larger runtime for outer timers", func(t *testing.T) {
		t.Run("if many timers are nested around a slow handler", func(t *testing.T) {
			app := HandlerFunc(func(ctx context.Context, env Env) (Response, error) {
				time.Sleep(10 * time.Millisecond)
				return helloWorld(header.NewOrdered())(ctx, env)
			})

			var h Handler = New(app, Suffix("App"))
			for i := 0; i < 100; i++ {
				h = New(h, Suffix(strconv.Itoa(i)))
			}
			h = New(h, Suffix("All"))

			resp, err := h.Handle(context.Background(), Env{})
			if !assert.Nil(t, err) {
				return
			}

			appRuntime := headerValue(t, resp.Header, "X-Runtime-App")
			allRuntime := headerValue(t, resp.Header, "X-Runtime-All")
			if !assert.Regexp(t, runtimePattern, appRuntime) {
				return
			}
			if !assert.Regexp(t, runtimePattern, allRuntime) {
				return
			}

			appSecs, err := strconv.ParseFloat(appRuntime, 64)
			if !assert.Nil(t, err) {
				return
			}
			allSecs, err := strconv.ParseFloat(allRuntime, 64)
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Greater(t, allSecs, appSecs) {
				return
			}
			if !assert.GreaterOrEqual(t, appSecs, 0.01) {
				return
			}
		})

		t.Run("if every layer reads the same clock", func(t *testing.T) {
			clock := &tickClock{step: time.Millisecond}

			var h Handler = New(helloWorld(&header.Fields{}), Suffix("0"), WithClock(clock))
			for i := 1; i < 5; i++ {
				h = New(h, Suffix(strconv.Itoa(i)), WithClock(clock))
			}

			resp, err := h.Handle(context.Background(), Env{})
			if !assert.Nil(t, err) {
				return
			}

			// each layer adds one tick on both sides of its inner layer
			for i := 0; i < 5; i++ {
				expected := Format(time.Duration(2*i+1) * time.Millisecond)
				if !assert.Equal(t, expected, headerValue(t, resp.Header, Key(strconv.Itoa(i)))) {
					return
				}
			}
		})
	})

	t.Run("will report a non-negative runtime", func(t *testing.T) {
		t.Run("if the handler returns immediately", func(t *testing.T) {
			now := time.Now()
			rt := New(
				helloWorld(&header.Fields{}),
				WithClock(clockFunc(func() time.Time { return now })),
			)

			resp, err := rt.Handle(context.Background(), Env{})
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, "0.000000", headerValue(t, resp.Header, "X-Runtime")) {
				return
			}
		})

		t.Run("if the clock moves backwards", func(t *testing.T) {
			clock := &tickClock{now: time.Now(), step: -time.Second}
			rt := New(helloWorld(&header.Fields{}), WithClock(clock))

			resp, err := rt.Handle(context.Background(), Env{})
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, "0.000000", headerValue(t, resp.Header, "X-Runtime")) {
				return
			}
		})
	})

	t.Run("will pass status and body through", func(t *testing.T) {
		body := strings.NewReader("created")
		app := HandlerFunc(func(ctx context.Context, env Env) (Response, error) {
			return Response{
				Status: http.StatusCreated,
				Header: &header.Fields{},
				Body:   body,
			}, nil
		})

		resp, err := New(app).Handle(context.Background(), Env{})
		if !assert.Nil(t, err) {
			return
		}
		if !assert.Equal(t, http.StatusCreated, resp.Status) {
			return
		}
		if !assert.Same(t, body, resp.Body) {
			return
		}
	})

	t.Run("will pass the env through", func(t *testing.T) {
		env := Env{"PATH_INFO": "/hello"}

		var got Env
		app := HandlerFunc(func(ctx context.Context, e Env) (Response, error) {
			got = e
			return Response{Status: http.StatusOK, Header: &header.Fields{}}, nil
		})

		_, err := New(app).Handle(context.Background(), env)
		if !assert.Nil(t, err) {
			return
		}
		if !assert.Equal(t, Env{"PATH_INFO": "/hello"}, got) {
			return
		}
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the downstream handler fails", func(t *testing.T) {
			handleErr := errors.New("failed to handle")
			h := &header.Fields{}
			app := HandlerFunc(func(ctx context.Context, env Env) (Response, error) {
				return Response{Header: h}, handleErr
			})

			_, err := New(app).Handle(context.Background(), Env{})
			if !assert.Same(t, handleErr, err) {
				return
			}
			if !assert.False(t, header.IsSet(h, "X-Runtime")) {
				return
			}
		})
	})

	t.Run("will propagate a panic", func(t *testing.T) {
		t.Run("if the downstream handler panics", func(t *testing.T) {
			app := HandlerFunc(func(ctx context.Context, env Env) (Response, error) {
				panic("boom")
			})

			rt := New(app)
			if !assert.PanicsWithValue(t, "boom", func() {
				rt.Handle(context.Background(), Env{})
			}) {
				return
			}
		})
	})

	t.Run("will time every request independently", func(t *testing.T) {
		t.Run("if one instance is shared by concurrent requests", func(t *testing.T) {
			rt := New(HandlerFunc(func(ctx context.Context, env Env) (Response, error) {
				return Response{Status: http.StatusOK, Header: header.NewOrdered()}, nil
			}))

			var wg sync.WaitGroup
			resps := make([]Response, 50)
			errs := make([]error, len(resps))
			for i := range resps {
				i := i
				wg.Add(1)
				go func() {
					defer wg.Done()
					resps[i], errs[i] = rt.Handle(context.Background(), Env{"id": i})
				}()
			}
			wg.Wait()

			for i, resp := range resps {
				if !assert.Nil(t, errs[i]) {
					return
				}
				if !assert.Regexp(t, runtimePattern, headerValue(t, resp.Header, "X-Runtime"), fmt.Sprint(i)) {
					return
				}
			}
		})
	})
}

func TestKey(t *testing.T) {
	t.Run("will return the base key", func(t *testing.T) {
		t.Run("if the suffix is empty", func(t *testing.T) {
			if !assert.Equal(t, "X-Runtime", Key("")) {
				return
			}
			if !assert.Equal(t, "X-Runtime", New(nil, Suffix("")).Key()) {
				return
			}
		})
	})

	t.Run("will join the suffix verbatim", func(t *testing.T) {
		if !assert.Equal(t, "X-Runtime-db.read", Key("db.read")) {
			return
		}
	})
}

func TestFormat(t *testing.T) {
	testCases := []struct {
		Name     string
		Duration time.Duration
		Expected string
	}{
		{Name: "zero", Duration: 0, Expected: "0.000000"},
		{Name: "sub-millisecond", Duration: 250 * time.Microsecond, Expected: "0.000250"},
		{Name: "over a second", Duration: 1500 * time.Millisecond, Expected: "1.500000"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			if !assert.Equal(t, testCase.Expected, Format(testCase.Duration)) {
				return
			}
		})
	}
}
