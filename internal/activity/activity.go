// Package activity provides the audit trail around the auth subsystem: a
// fire-and-forget recorder that must never fail the action it describes, and
// query helpers for the back-office activity views.
package activity

import (
	"context"
	"time"

	"parkrow.org/internal/auth"
	"parkrow.org/internal/ids"
	"parkrow.org/internal/obs"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// defaultStatsWindow bounds the stats aggregates when the caller gives
	// no range.
	defaultStatsWindow = 30 * 24 * time.Hour
)

// Publisher receives each appended record for live fan-out. Implementations
// must not block.
type Publisher interface {
	Publish(rec auth.ActivityRecord)
}

// Recorder appends audit records. Append failures are logged and swallowed:
// an audit miss must never turn a successful login into an error.
type Recorder struct {
	store     auth.ActivityStore
	publisher Publisher
	now       func() time.Time
}

var _ auth.Recorder = (*Recorder)(nil)

// NewRecorder constructs a Recorder. The publisher is optional.
func NewRecorder(store auth.ActivityStore, publisher Publisher) *Recorder {
	return &Recorder{store: store, publisher: publisher, now: time.Now}
}

// Record persists one audit fact. The principal id is taken from the record,
// falling back to the authenticated identity on the context.
func (r *Recorder) Record(ctx context.Context, rec *auth.ActivityRecord) {
	if rec == nil || rec.Action == "" {
		return
	}
	if rec.ID == "" {
		rec.ID = ids.Prefixed("act")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	if rec.PrincipalID == "" {
		if id, ok := auth.PrincipalIDFromContext(ctx); ok {
			rec.PrincipalID = id
		}
	}
	if err := r.store.Append(ctx, rec); err != nil {
		obs.Log("error", "activity_append_failed", map[string]any{
			"action":       rec.Action,
			"principal_id": rec.PrincipalID,
			"error":        err.Error(),
		})
		return
	}
	if r.publisher != nil {
		r.publisher.Publish(*rec)
	}
}

// Service answers the read side: paged activity lists and aggregates.
type Service struct {
	store auth.ActivityStore
	now   func() time.Time
}

// NewService constructs a read-side Service.
func NewService(store auth.ActivityStore) *Service {
	return &Service{store: store, now: time.Now}
}

// List returns matching records, newest first. The limit is clamped to
// [1, 200] with a default of 50.
func (s *Service) List(ctx context.Context, filter auth.ActivityFilter) ([]auth.ActivityRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.store.List(ctx, filter)
}

// Stats is the aggregate payload for the dashboard.
type Stats struct {
	From      time.Time         `json:"from"`
	To        time.Time         `json:"to"`
	ByAction  map[string]int64  `json:"byAction"`
	TopActors []auth.ActorCount `json:"topActors"`
}

// Stats aggregates activity over [from, to]. A zero range defaults to the
// last 30 days ending now.
func (s *Service) Stats(ctx context.Context, from, to time.Time) (*Stats, error) {
	if to.IsZero() {
		to = s.now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-defaultStatsWindow)
	}
	if from.After(to) {
		return nil, auth.ErrInvalidInput
	}
	byAction, err := s.store.CountByAction(ctx, from, to)
	if err != nil {
		return nil, err
	}
	topActors, err := s.store.TopActors(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	return &Stats{From: from, To: to, ByAction: byAction, TopActors: topActors}, nil
}
