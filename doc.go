// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package xruntime provides middleware which reports how long the
// downstream part of a handler chain took to produce a response.
//
// The elapsed time is written, in decimal seconds, to the "X-Runtime"
// response header. A suffix can be configured so that several instances
// can be nested, each reporting under its own "X-Runtime-<suffix>" key:
//
//	h := xruntime.New(
//	    xruntime.New(app, xruntime.Suffix("App")),
//	    xruntime.Suffix("All"),
//	)
//
// A value already present under the key is left untouched.
//
// The [github.com/z5labs/xruntime/httpruntime] and
// [github.com/z5labs/xruntime/grpcruntime] packages provide the same
// behaviour for net/http handlers and gRPC servers.
package xruntime
