// Package deletion gates destructive deletes behind a typed confirmation phrase.
package deletion

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nicktill/battmon/pkg/telemetry"
)

// Scope selects what a confirmed delete removes.
type Scope string

const (
	ScopeNone  Scope = ""
	ScopeRange Scope = "range"
	ScopeAll   Scope = "all"
)

// Default confirmation phrases.
const (
	DefaultRangePhrase = "DELETE RANGE"
	DefaultAllPhrase   = "DELETE ALL"
)

var (
	// ErrPending is returned when a delete is requested while another waits for confirmation.
	ErrPending = errors.New("a delete is already awaiting confirmation")
	// ErrInvalidScope is returned for scopes other than range and all.
	ErrInvalidScope = errors.New("invalid delete scope")
	// ErrNoDevice is returned when the target has no device id.
	ErrNoDevice = errors.New("device id required")
)

// Deleter performs the actual deletes. Both calls return the number of
// records removed; deleting an already empty range returns 0.
type Deleter interface {
	DeleteRange(ctx context.Context, deviceID string, r telemetry.BucketRange) (int, error)
	DeleteAll(ctx context.Context, deviceID string) (int, error)
}

// Target is the device and window selected when the delete was requested.
type Target struct {
	DeviceID string    `json:"device_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Phrases are the literal texts that authorize each scope.
type Phrases struct {
	Range string
	All   string
}

// Outcome is the displayable result of Confirm.
type Outcome struct {
	Scope     Scope `json:"scope"`
	Performed bool  `json:"performed"`
	Deleted   int   `json:"deleted"`
	Err       error `json:"-"`
}

// Gate is a two-state machine: idle, or pending with a scope and target.
// The zero value is not usable; call NewGate.
type Gate struct {
	mu      sync.Mutex
	deleter Deleter
	phrases Phrases
	scope   Scope
	target  Target
}

// NewGate returns an idle gate. Empty phrases fall back to the defaults.
func NewGate(deleter Deleter, phrases Phrases) *Gate {
	if phrases.Range == "" {
		phrases.Range = DefaultRangePhrase
	}
	if phrases.All == "" {
		phrases.All = DefaultAllPhrase
	}
	return &Gate{deleter: deleter, phrases: phrases}
}

// Request moves the gate to pending.
func (g *Gate) Request(scope Scope, target Target) error {
	if scope != ScopeRange && scope != ScopeAll {
		return ErrInvalidScope
	}
	if target.DeviceID == "" {
		return ErrNoDevice
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scope != ScopeNone {
		return ErrPending
	}
	g.scope = scope
	g.target = target
	return nil
}

// Pending returns the pending scope, or ScopeNone when idle.
func (g *Gate) Pending() Scope {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.scope
}

// Phrase returns the text that confirms scope.
func (g *Gate) Phrase(scope Scope) string {
	switch scope {
	case ScopeRange:
		return g.phrases.Range
	case ScopeAll:
		return g.phrases.All
	}
	return ""
}

// Cancel returns the gate to idle without deleting.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scope = ScopeNone
	g.target = Target{}
}

// Confirm closes the gate. Only text exactly equal to the phrase of the
// pending scope performs a delete; anything else cancels silently. A failed
// delete still closes the gate and reports zero deleted records.
func (g *Gate) Confirm(ctx context.Context, typed string) Outcome {
	g.mu.Lock()
	scope, target := g.scope, g.target
	g.scope = ScopeNone
	g.target = Target{}
	g.mu.Unlock()

	out := Outcome{Scope: scope}
	if scope == ScopeNone || typed != g.Phrase(scope) {
		return out
	}

	var (
		n   int
		err error
	)
	switch scope {
	case ScopeRange:
		n, err = g.deleter.DeleteRange(ctx, target.DeviceID, telemetry.QueryRange(target.Start, target.End))
	case ScopeAll:
		n, err = g.deleter.DeleteAll(ctx, target.DeviceID)
	}

	out.Performed = true
	if err != nil {
		out.Err = err
		return out
	}
	out.Deleted = n
	return out
}
