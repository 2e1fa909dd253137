// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package health provides the health metrics reported by the xruntime servers.
package health

import (
	"context"
	"sync"
	"sync/atomic"
)

// Metric represents anything that can report its health status.
type Metric interface {
	Healthy(context.Context) bool
}

// Binary represents a health.Metric that is either healthy or not.
// The default value is represents a healthy state.
type Binary struct {
	mu        sync.Mutex
	unhealthy bool
}

// Toggle toggles the state of Binary.
func (m *Binary) Toggle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unhealthy = !m.unhealthy
}

// Healthy implements the Metric interface.
func (m *Binary) Healthy(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unhealthy
}

// Started reports healthy once Started has been called.
type Started struct {
	started atomic.Bool
}

// Started marks the server as started.
func (m *Started) Started() {
	m.started.Store(true)
}

// Healthy implements the Metric interface.
func (m *Started) Healthy(ctx context.Context) bool {
	return m.started.Load()
}

// Liveness is healthy until Dead is called.
type Liveness struct {
	dead atomic.Bool
}

// Alive marks the server as alive.
func (m *Liveness) Alive() {
	m.dead.Store(false)
}

// Dead marks the server as dead.
func (m *Liveness) Dead() {
	m.dead.Store(true)
}

// Healthy implements the Metric interface.
func (m *Liveness) Healthy(ctx context.Context) bool {
	return !m.dead.Load()
}

// Readiness is unhealthy until Ready is called.
type Readiness struct {
	ready atomic.Bool
}

// Ready marks the server as ready to receive traffic.
func (m *Readiness) Ready() {
	m.ready.Store(true)
}

// NotReady marks the server as no longer accepting traffic.
func (m *Readiness) NotReady() {
	m.ready.Store(false)
}

// Healthy implements the Metric interface.
func (m *Readiness) Healthy(ctx context.Context) bool {
	return m.ready.Load()
}

// AndMetric represents multiple Metrics all and'd together.
type AndMetric struct {
	metrics []Metric
}

// And returns a Metric where all the underlying Metrics healthy
// states are joined together via the logical and (&&) operator.
func And(metrics ...Metric) AndMetric {
	return AndMetric{
		metrics: metrics,
	}
}

// Healthy implements the Metric interface.
func (m AndMetric) Healthy(ctx context.Context) bool {
	for _, metric := range m.metrics {
		if !metric.Healthy(ctx) {
			return false
		}
	}
	return true
}
