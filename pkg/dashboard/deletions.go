package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/deletion"
)

// ErrUnknownDeletion is returned for ids that were never issued, were
// already confirmed or cancelled, or expired.
var ErrUnknownDeletion = errors.New("unknown or expired deletion")

// PhraseConfig overrides the confirmation phrases. Empty means default.
type PhraseConfig struct {
	Range string
	All   string
}

func (c PhraseConfig) gatePhrases() deletion.Phrases {
	return deletion.Phrases{Range: c.Range, All: c.All}
}

// PendingDeletion describes a delete waiting for its phrase.
type PendingDeletion struct {
	ID        string          `json:"id"`
	Scope     deletion.Scope  `json:"scope"`
	Target    deletion.Target `json:"target"`
	Phrase    string          `json:"phrase"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type pendingEntry struct {
	gate *deletion.Gate
	info PendingDeletion
}

// Registry holds one deletion gate per pending request, keyed by a random id.
// Entries not confirmed within the TTL are dropped.
type Registry struct {
	mu      sync.Mutex
	deleter deletion.Deleter
	phrases deletion.Phrases
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*pendingEntry
}

// NewRegistry creates an empty registry.
func NewRegistry(deleter deletion.Deleter, phrases deletion.Phrases, ttl time.Duration) *Registry {
	return &Registry{
		deleter: deleter,
		phrases: phrases,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*pendingEntry),
	}
}

// Open requests a delete and returns its id and the phrase that confirms it.
func (r *Registry) Open(scope deletion.Scope, target deletion.Target) (PendingDeletion, error) {
	gate := deletion.NewGate(r.deleter, r.phrases)
	if err := gate.Request(scope, target); err != nil {
		return PendingDeletion{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.sweepLocked(now)

	info := PendingDeletion{
		ID:        uuid.NewString(),
		Scope:     scope,
		Target:    target,
		Phrase:    gate.Phrase(scope),
		ExpiresAt: now.Add(r.ttl),
	}
	r.entries[info.ID] = &pendingEntry{gate: gate, info: info}
	return info, nil
}

// Get returns a pending delete.
func (r *Registry) Get(id string) (PendingDeletion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(r.now())
	e, ok := r.entries[id]
	if !ok {
		return PendingDeletion{}, false
	}
	return e.info, true
}

// Confirm removes the entry and passes typed to its gate. The entry is gone
// afterwards whatever the outcome.
func (r *Registry) Confirm(ctx context.Context, id, typed string) (PendingDeletion, deletion.Outcome, error) {
	e, ok := r.take(id)
	if !ok {
		return PendingDeletion{}, deletion.Outcome{}, ErrUnknownDeletion
	}
	return e.info, e.gate.Confirm(ctx, typed), nil
}

// Cancel drops a pending delete. It reports whether the id was pending.
func (r *Registry) Cancel(id string) bool {
	e, ok := r.take(id)
	if ok {
		e.gate.Cancel()
	}
	return ok
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(r.now())
	return len(r.entries)
}

func (r *Registry) take(id string) (*pendingEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(r.now())
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	return e, ok
}

func (r *Registry) sweepLocked(now time.Time) {
	for id, e := range r.entries {
		if !now.Before(e.info.ExpiresAt) {
			delete(r.entries, id)
		}
	}
}

// DeletionResult is the response to a confirmation.
type DeletionResult struct {
	ID        string         `json:"id"`
	Scope     deletion.Scope `json:"scope"`
	DeviceID  string         `json:"device_id"`
	Performed bool           `json:"performed"`
	Deleted   int            `json:"deleted"`
	Error     string         `json:"error,omitempty"`
}

// RequestDeletion opens a pending delete for the query's device and window.
func (s *Service) RequestDeletion(scope deletion.Scope, q Query) (PendingDeletion, error) {
	if scope == deletion.ScopeRange {
		if err := q.Validate(); err != nil {
			return PendingDeletion{}, err
		}
	}
	p, err := s.registry.Open(scope, deletion.Target{DeviceID: q.DeviceID, Start: q.Start, End: q.End})
	if err != nil {
		return PendingDeletion{}, err
	}
	s.logger.Info("deletion requested",
		zap.String("id", p.ID),
		zap.String("scope", string(scope)),
		zap.String("device_id", q.DeviceID))
	return p, nil
}

// Deletion returns a pending delete by id.
func (s *Service) Deletion(id string) (PendingDeletion, bool) {
	return s.registry.Get(id)
}

// ConfirmDeletion closes a pending delete with the typed phrase. A mismatch
// is not an error: the result reports Performed false.
func (s *Service) ConfirmDeletion(ctx context.Context, id, typed string) (DeletionResult, error) {
	p, out, err := s.registry.Confirm(ctx, id, typed)
	if err != nil {
		return DeletionResult{}, err
	}

	res := DeletionResult{
		ID:        id,
		Scope:     p.Scope,
		DeviceID:  p.Target.DeviceID,
		Performed: out.Performed,
		Deleted:   out.Deleted,
	}
	if !out.Performed {
		s.logger.Info("deletion cancelled", zap.String("id", id))
		return res, nil
	}

	s.metrics.ObserveDeletion(string(p.Scope), out.Deleted, out.Err)
	if out.Err != nil {
		s.logger.Error("deletion failed",
			zap.String("id", id),
			zap.String("device_id", p.Target.DeviceID),
			zap.Error(out.Err))
		res.Error = out.Err.Error()
		return res, out.Err
	}

	s.logger.Info("records deleted",
		zap.String("id", id),
		zap.String("scope", string(p.Scope)),
		zap.String("device_id", p.Target.DeviceID),
		zap.Int("deleted", out.Deleted))
	return res, nil
}

// CancelDeletion drops a pending delete.
func (s *Service) CancelDeletion(id string) bool {
	return s.registry.Cancel(id)
}
