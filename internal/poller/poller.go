// Package poller drives the fetch, normalize, merge and point cycle.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/star/aprstrack/internal/archive"
	"github.com/star/aprstrack/internal/metrics"
	"github.com/star/aprstrack/internal/pointing"
	"github.com/star/aprstrack/internal/telemetry"
)

// Pointing status values published after each cycle.
const (
	StatusOK                = "ok"
	StatusNoTarget          = "no_target"
	StatusUndefinedGeometry = "undefined_geometry"
)

// Fetcher retrieves the latest location payload for a callsign.
type Fetcher interface {
	Fetch(ctx context.Context, callsign string) (telemetry.Payload, error)
}

// Device is one tracked station and the payload dialect it speaks.
type Device struct {
	Name     string
	Callsign string
	Dialect  telemetry.Dialect
}

// Status is the pointing state published after a cycle.
type Status struct {
	Status    string             `json:"status"`
	Observer  pointing.Geodetic  `json:"observer"`
	Target    *pointing.Geodetic `json:"target,omitempty"`
	Source    telemetry.Source   `json:"source,omitempty"`
	Result    *pointing.Result   `json:"result,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	ID        string
	Fetched   int
	Failed    int
	Malformed int
	Added     int
	Total     int
	NextWait  time.Duration
}

// Poller is the single writer of the telemetry store and pointing session.
type Poller struct {
	devices []Device
	fetcher Fetcher
	store   *telemetry.Store
	session *pointing.Session
	archive *archive.Archive // nil disables persistence
	backoff *Backoff
	logger  *slog.Logger

	status  atomic.Pointer[Status]
	trigger chan struct{}
	now     func() time.Time
}

// New creates a Poller. arch may be nil.
func New(devices []Device, fetcher Fetcher, store *telemetry.Store, session *pointing.Session,
	arch *archive.Archive, backoff *Backoff, logger *slog.Logger) *Poller {
	p := &Poller{
		devices: devices,
		fetcher: fetcher,
		store:   store,
		session: session,
		archive: arch,
		backoff: backoff,
		logger:  logger.With("component", "poller"),
		trigger: make(chan struct{}, 1),
		now:     time.Now,
	}
	p.status.Store(&Status{Status: StatusNoTarget, Observer: session.Observer()})
	return p
}

// Status returns the most recently published pointing status. Never nil.
func (p *Poller) Status() *Status {
	return p.status.Load()
}

// Trigger requests an immediate cycle. It never blocks; a request made while
// another is pending is coalesced.
func (p *Poller) Trigger() bool {
	select {
	case p.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run cycles until ctx is cancelled, sleeping the backoff wait between cycles.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started", "devices", len(p.devices), "base_wait_seconds", p.backoff.Base.Seconds())
	for {
		res := p.Cycle(ctx)
		if ctx.Err() != nil {
			break
		}

		timer := time.NewTimer(res.NextWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("poller stopped")
			return
		case <-p.trigger:
			timer.Stop()
			p.logger.Info("poll triggered")
		case <-timer.C:
		}
	}
	p.logger.Info("poller stopped")
}

// Cycle fetches every device in order, merges the normalized records into the
// store and recomputes pointing. Failures degrade to a partial or empty update.
func (p *Poller) Cycle(ctx context.Context) CycleResult {
	start := p.now()
	res := CycleResult{ID: uuid.NewString()}
	logger := p.logger.With("cycle_id", res.ID)

	ctx, span := otel.Tracer("aprstrack/poller").Start(ctx, "poll.cycle")
	defer span.End()
	span.SetAttributes(attribute.String("cycle.id", res.ID))

	var incoming []telemetry.Record
	for _, d := range p.devices {
		if ctx.Err() != nil {
			break
		}
		payload, err := p.fetcher.Fetch(ctx, d.Callsign)
		if err != nil {
			res.Failed++
			p.backoff.Failure()
			metrics.RecordFetch(d.Name, false)
			logger.Warn("fetch failed", "device", d.Name, "callsign", d.Callsign, "error", err,
				"next_wait_seconds", p.backoff.Wait().Seconds())
			continue
		}
		res.Fetched++
		p.backoff.Success()
		metrics.RecordFetch(d.Name, true)

		rec, err := telemetry.Parse(d.Dialect, payload)
		if err != nil {
			res.Malformed++
			metrics.IncParseErrors(d.Name)
			logger.Warn("dropping malformed payload", "device", d.Name, "error", err)
			continue
		}
		incoming = append(incoming, rec)
	}

	now := p.now()
	res.Added = p.store.Merge(incoming, now)
	snap := p.store.Get()
	res.Total = len(snap.Records)
	metrics.RecordMerge(res.Added, res.Total)

	p.updatePointing(snap.Records, now, logger)

	if p.archive != nil && res.Added > 0 {
		if err := p.archive.Save(snap.Records, now); err != nil {
			metrics.IncArchiveErrors()
			logger.Error("archive save failed", "error", err)
		}
	}

	res.NextWait = p.backoff.Wait()
	metrics.ObserveCycle(p.now().Sub(start), res.NextWait)

	span.SetAttributes(
		attribute.Int("cycle.fetched", res.Fetched),
		attribute.Int("cycle.failed", res.Failed),
		attribute.Int("cycle.added", res.Added),
	)
	if res.Failed > 0 && res.Fetched == 0 {
		span.SetStatus(codes.Error, "all fetches failed")
	}

	logger.Info("poll cycle complete",
		"fetched", res.Fetched,
		"failed", res.Failed,
		"malformed", res.Malformed,
		"added", res.Added,
		"total", res.Total,
		"next_wait_seconds", res.NextWait.Seconds(),
	)
	return res
}

func (p *Poller) updatePointing(history []telemetry.Record, now time.Time, logger *slog.Logger) {
	st := &Status{Observer: p.session.Observer(), UpdatedAt: now}

	target, ok := telemetry.LatestWithAltitude(history)
	if !ok {
		st.Status = StatusNoTarget
		p.publish(st)
		return
	}
	st.Source = target.Source

	if err := p.session.SetTarget(target.Latitude, target.Longitude, target.Altitude.Value); err != nil {
		logger.Warn("rejecting pointing target", "error", err)
		st.Status = StatusNoTarget
		p.publish(st)
		return
	}
	tgt, _ := p.session.Target()
	st.Target = &tgt

	result, err := p.session.Calculate()
	switch {
	case errors.Is(err, pointing.ErrUndefinedGeometry):
		st.Status = StatusUndefinedGeometry
		logger.Warn("pointing undefined, target coincides with observer")
	case err != nil:
		st.Status = StatusNoTarget
		logger.Warn("pointing failed", "error", err)
	default:
		st.Status = StatusOK
		st.Result = &result
		metrics.SetPointing(result.AzimuthDeg, result.ElevationDeg, result.RangeM)
		logger.Debug("pointing updated",
			"azimuth", result.AzimuthDeg,
			"elevation", result.ElevationDeg,
			"distance_m", result.RangeM,
		)
	}
	p.publish(st)
}

func (p *Poller) publish(st *Status) {
	metrics.IncPointing(st.Status)
	p.status.Store(st)
}
