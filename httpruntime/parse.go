// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package httpruntime

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MissingHeaderError is returned by [Parse] when the key has no value.
type MissingHeaderError struct {
	Key string
}

// Error implements the [builtin.error] interface.
func (e MissingHeaderError) Error() string {
	return fmt.Sprintf("runtime header is missing: %s", e.Key)
}

// InvalidValueError is returned by [Parse] when the header value is not
// a non-negative decimal number of seconds.
type InvalidValueError struct {
	Key   string
	Value string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e InvalidValueError) Error() string {
	return fmt.Sprintf("invalid runtime header value %q for %s: %s", e.Value, e.Key, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InvalidValueError) Unwrap() error {
	return e.Cause
}

var (
	errNotFiniteOrNegative = errors.New("value must be a finite, non-negative number")
	errOutOfRange          = errors.New("value exceeds the largest representable duration")
)

const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// Parse reads the runtime reported under key, e.g. from a client
// side [http.Response]. Only the first value is considered.
func Parse(h http.Header, key string) (time.Duration, error) {
	vs := h.Values(key)
	if len(vs) == 0 {
		return 0, MissingHeaderError{Key: key}
	}

	v := strings.TrimSpace(vs[0])
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, InvalidValueError{Key: key, Value: vs[0], Cause: err}
	}
	if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, InvalidValueError{Key: key, Value: vs[0], Cause: errNotFiniteOrNegative}
	}
	if secs >= maxSeconds {
		return 0, InvalidValueError{Key: key, Value: vs[0], Cause: errOutOfRange}
	}
	return time.Duration(math.Round(secs * float64(time.Second))), nil
}
