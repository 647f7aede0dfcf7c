// Package dashboard serves the battery telemetry dashboard: per-device
// series with an axis plan, the windowed reading table, a PNG chart,
// spreadsheet exports and phrase-gated deletes.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/axis"
	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/metrics"
	"github.com/nicktill/battmon/pkg/prefs"
	"github.com/nicktill/battmon/pkg/table"
	"github.com/nicktill/battmon/pkg/telemetry"
)

var (
	// ErrNoDevice is returned when a query names no device.
	ErrNoDevice = errors.New("device_id is required")
	// ErrWindowTooLarge is returned for queries longer than config.MaxQueryWindow.
	ErrWindowTooLarge = fmt.Errorf("time range too large (max %v)", config.MaxQueryWindow)
	// ErrInvalidWindow is returned when end is before start.
	ErrInvalidWindow = errors.New("end is before start")
)

// Source is the record store the dashboard reads and deletes from: local
// storage or the remote record API.
type Source interface {
	Devices(ctx context.Context) ([]string, error)
	Query(ctx context.Context, deviceID string, r telemetry.BucketRange) ([]telemetry.Record, error)
	DeleteRange(ctx context.Context, deviceID string, r telemetry.BucketRange) (int, error)
	DeleteAll(ctx context.Context, deviceID string) (int, error)
}

// Query selects one device and a time window. The bucket holding End is
// excluded.
type Query struct {
	DeviceID string
	Start    time.Time
	End      time.Time
}

// Validate checks the query before it reaches the source.
func (q Query) Validate() error {
	if q.DeviceID == "" {
		return ErrNoDevice
	}
	if q.End.Before(q.Start) {
		return ErrInvalidWindow
	}
	if q.End.Sub(q.Start) > config.MaxQueryWindow {
		return ErrWindowTooLarge
	}
	return nil
}

// SearchResult is one device's series for a window.
type SearchResult struct {
	DeviceID string                `json:"device_id"`
	Start    time.Time             `json:"start"`
	End      time.Time             `json:"end"`
	Buckets  telemetry.BucketRange `json:"buckets"`
	Records  int                   `json:"records"`
	Series   telemetry.Series      `json:"series"`
	Axis     *axis.Plan            `json:"axis,omitempty"`

	records []telemetry.Record
}

// Empty reports whether there is nothing to draw.
func (r *SearchResult) Empty() bool {
	return len(r.Series) == 0
}

// TableOptions are the per-request table controls. A nil Ascending keeps
// the stored sort preference; a nil Reveal reveals nothing.
type TableOptions struct {
	Ascending *bool
	ShowAll   bool
	Reveal    *int64
}

// TableResult is the visible part of the reading table.
type TableResult struct {
	DeviceID    string      `json:"device_id"`
	Rows        []table.Row `json:"rows"`
	Total       int         `json:"total"`
	Ascending   bool        `json:"ascending"`
	ShowingAll  bool        `json:"showing_all"`
	RevealIndex *int        `json:"reveal_index,omitempty"`
}

// Service turns source records into dashboard views.
type Service struct {
	source   Source
	prefs    prefs.Store
	registry *Registry
	metrics  *metrics.Metrics
	loc      *time.Location
	logger   *zap.Logger
}

// Options configures a Service.
type Options struct {
	Prefs    prefs.Store
	Phrases  PhraseConfig
	Location *time.Location
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// NewService creates a dashboard service over source. Missing options fall
// back to an in-memory preference store, UTC and a no-op logger.
func NewService(source Source, opts Options) *Service {
	if opts.Prefs == nil {
		opts.Prefs = prefs.NewMemoryStore()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		source:   source,
		prefs:    opts.Prefs,
		registry: NewRegistry(source, opts.Phrases.gatePhrases(), config.PendingDeletionTTL),
		metrics:  opts.Metrics,
		loc:      opts.Location,
		logger:   opts.Logger,
	}
}

// Location is the display time zone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Devices lists the devices of the source.
func (s *Service) Devices(ctx context.Context) ([]string, error) {
	devices, err := s.source.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

// Search queries the source and rebuilds the series from scratch. An empty
// result is not an error; Axis is nil and nothing should be drawn.
func (s *Service) Search(ctx context.Context, q Query) (*SearchResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	buckets := telemetry.QueryRange(q.Start, q.End)
	res := &SearchResult{
		DeviceID: q.DeviceID,
		Start:    q.Start,
		End:      q.End,
		Buckets:  buckets,
		Series:   telemetry.Series{},
	}
	if buckets.Empty() {
		return res, nil
	}

	records, err := s.source.Query(ctx, q.DeviceID, buckets)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	series, err := telemetry.BuildSeries(records)
	s.metrics.ObserveSeries(len(series), err)
	if err != nil {
		s.logger.Warn("malformed record in query result",
			zap.String("device_id", q.DeviceID),
			zap.Error(err))
		return nil, err
	}

	res.Records = len(records)
	res.Series = series
	res.records = records
	if plan, ok := axis.PlanSeries(series, s.loc); ok {
		res.Axis = &plan
	}
	return res, nil
}

// Table searches and windows the rows. A sort direction different from the
// stored preference is saved and collapses the table, so ShowAll is ignored
// on that request. Reveal always expands it.
func (s *Service) Table(ctx context.Context, q Query, prefsKey string, opts TableOptions) (*TableResult, error) {
	res, err := s.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	p, err := s.prefs.Load(ctx, prefsKey)
	if err != nil {
		s.logger.Warn("preferences unavailable, using defaults", zap.Error(err))
		p = prefs.Default()
	}

	w := table.NewWindower(p.SortAscending)
	w.Load(res.Series)

	if opts.Ascending != nil && *opts.Ascending != p.SortAscending {
		w.SetAscending(*opts.Ascending)
		p.SortAscending = *opts.Ascending
		if err := s.prefs.Save(ctx, prefsKey, p); err != nil {
			s.logger.Warn("failed to save sort preference", zap.Error(err))
		}
	} else if opts.ShowAll {
		w.ShowAll()
	}

	out := &TableResult{DeviceID: q.DeviceID}
	if opts.Reveal != nil {
		if idx, ok := w.Reveal(*opts.Reveal); ok {
			out.RevealIndex = &idx
		}
	}

	out.Rows = w.Rows()
	out.Total = w.Total()
	out.Ascending = w.Ascending()
	out.ShowingAll = w.ShowingAll()
	return out, nil
}

// Preferences loads the stored preferences for key.
func (s *Service) Preferences(ctx context.Context, key string) (prefs.Preferences, error) {
	return s.prefs.Load(ctx, key)
}

// SavePreferences replaces the stored preferences for key.
func (s *Service) SavePreferences(ctx context.Context, key string, p prefs.Preferences) error {
	return s.prefs.Save(ctx, key, p)
}
