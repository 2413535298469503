// Package health tracks per-component run outcomes for the status API.
package health

import (
	"sync"
	"time"
)

// ComponentStatus is one component's recent run history.
type ComponentStatus struct {
	Name                string     `json:"name"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Stale               bool       `json:"stale"`
}

// Tracker records run outcomes per component. A component is stale when it
// has not succeeded within the configured window.
type Tracker struct {
	staleAfter time.Duration

	mu         sync.Mutex
	components map[string]*componentState
}

type componentState struct {
	lastSuccess         time.Time
	lastFailure         time.Time
	lastError           string
	consecutiveFailures int
}

// NewTracker creates a tracker with the given staleness window.
func NewTracker(staleAfter time.Duration) *Tracker {
	return &Tracker{
		staleAfter: staleAfter,
		components: make(map[string]*componentState),
	}
}

// RecordSuccess marks a successful run for the component.
func (t *Tracker) RecordSuccess(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.component(name)
	c.lastSuccess = time.Now().UTC()
	c.consecutiveFailures = 0
	c.lastError = ""
}

// RecordFailure marks a failed run for the component.
func (t *Tracker) RecordFailure(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.component(name)
	c.lastFailure = time.Now().UTC()
	c.consecutiveFailures++
	if err != nil {
		c.lastError = err.Error()
	}
}

func (t *Tracker) component(name string) *componentState {
	c, ok := t.components[name]
	if !ok {
		c = &componentState{}
		t.components[name] = c
	}
	return c
}

// Status returns a snapshot of all tracked components.
func (t *Tracker) Status() map[string]ComponentStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	out := make(map[string]ComponentStatus, len(t.components))
	for name, c := range t.components {
		status := ComponentStatus{
			Name:                name,
			LastError:           c.lastError,
			ConsecutiveFailures: c.consecutiveFailures,
		}
		if !c.lastSuccess.IsZero() {
			ts := c.lastSuccess
			status.LastSuccess = &ts
		}
		if !c.lastFailure.IsZero() {
			ts := c.lastFailure
			status.LastFailure = &ts
		}
		status.Stale = t.staleAfter > 0 &&
			(c.lastSuccess.IsZero() || now.Sub(c.lastSuccess) > t.staleAfter)
		out[name] = status
	}
	return out
}

// Healthy reports whether every tracked component is fresh and not failing.
func (t *Tracker) Healthy() bool {
	for _, status := range t.Status() {
		if status.Stale || status.ConsecutiveFailures > 0 {
			return false
		}
	}
	return true
}
