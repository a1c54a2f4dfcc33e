// Package instrument wraps a StorageGateway so every storage round-trip is
// counted, timed and traced. Round-trip counts are the cost model of the
// core: an identity map hit or a loaded collection costs none.
package instrument

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Storage operation labels.
const (
	OpBegin              = "begin"
	OpFetchByID          = "fetch_by_id"
	OpFetchByCriteria    = "fetch_by_criteria"
	OpFetchAssociation   = "fetch_association"
	OpInsert             = "insert"
	OpUpdate             = "update"
	OpReplaceAssociation = "replace_association"
	OpCommit             = "commit"
	OpRollback           = "rollback"
)

const tracerName = "github.com/mesh-intelligence/pantry/pkg/instrument"

// Metrics holds the collectors recorded by instrumented gateways.
type Metrics struct {
	Calls    *prometheus.CounterVec
	Errors   *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_storage_calls_total",
			Help: "Storage gateway round-trips by operation.",
		}, []string{"op"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pantry_storage_errors_total",
			Help: "Failed storage gateway round-trips by operation.",
		}, []string{"op"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pantry_storage_call_duration_seconds",
			Help:    "Storage gateway round-trip latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Calls, m.Errors, m.Duration)
	}
	return m
}

// Options configures Wrap.
type Options struct {
	// Metrics receives the measurements. Defaults to NewMetrics(nil).
	Metrics *Metrics
	// Tracer opens one span per call. Defaults to the global tracer provider.
	Tracer trace.Tracer
}

// Wrap returns gw with every session call measured.
func Wrap(gw types.StorageGateway, opts Options) types.StorageGateway {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &gateway{next: gw, metrics: opts.Metrics, tracer: opts.Tracer}
}

type gateway struct {
	next    types.StorageGateway
	metrics *Metrics
	tracer  trace.Tracer
}

func (g *gateway) Begin(ctx context.Context) (types.Session, error) {
	var s types.Session
	err := g.observe(ctx, OpBegin, types.EntityKey{}, func(ctx context.Context) error {
		var err error
		s, err = g.next.Begin(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &session{next: s, gw: g}, nil
}

// observe runs fn inside a span and records its outcome.
func (g *gateway) observe(ctx context.Context, op string, key types.EntityKey, fn func(context.Context) error) error {
	ctx, span := g.tracer.Start(ctx, "pantry.storage."+op)
	defer span.End()
	if key.Type != "" {
		span.SetAttributes(
			attribute.String("pantry.entity_type", key.Type),
			attribute.String("pantry.entity_id", key.ID),
		)
	}

	start := time.Now()
	err := fn(ctx)
	g.metrics.Calls.WithLabelValues(op).Inc()
	g.metrics.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		g.metrics.Errors.WithLabelValues(op).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

type session struct {
	next types.Session
	gw   *gateway
}

func (s *session) FetchByID(ctx context.Context, key types.EntityKey) (types.Row, error) {
	var row types.Row
	err := s.gw.observe(ctx, OpFetchByID, key, func(ctx context.Context) error {
		var err error
		row, err = s.next.FetchByID(ctx, key)
		return err
	})
	return row, err
}

func (s *session) FetchByCriteria(ctx context.Context, entityType string, criteria types.Criteria) ([]types.Row, error) {
	var rows []types.Row
	err := s.gw.observe(ctx, OpFetchByCriteria, types.EntityKey{Type: entityType}, func(ctx context.Context) error {
		var err error
		rows, err = s.next.FetchByCriteria(ctx, entityType, criteria)
		return err
	})
	return rows, err
}

func (s *session) FetchAssociation(ctx context.Context, owner types.EntityKey, name string) ([]types.AssociationEntry, error) {
	var entries []types.AssociationEntry
	err := s.gw.observe(ctx, OpFetchAssociation, owner, func(ctx context.Context) error {
		var err error
		entries, err = s.next.FetchAssociation(ctx, owner, name)
		return err
	})
	return entries, err
}

func (s *session) Insert(ctx context.Context, row types.Row) (string, error) {
	var id string
	err := s.gw.observe(ctx, OpInsert, row.Key(), func(ctx context.Context) error {
		var err error
		id, err = s.next.Insert(ctx, row)
		return err
	})
	return id, err
}

func (s *session) Update(ctx context.Context, row types.Row) error {
	return s.gw.observe(ctx, OpUpdate, row.Key(), func(ctx context.Context) error {
		return s.next.Update(ctx, row)
	})
}

func (s *session) ReplaceAssociation(ctx context.Context, owner types.EntityKey, name string, links []types.AssociationLink) error {
	return s.gw.observe(ctx, OpReplaceAssociation, owner, func(ctx context.Context) error {
		return s.next.ReplaceAssociation(ctx, owner, name, links)
	})
}

func (s *session) Commit(ctx context.Context) error {
	return s.gw.observe(ctx, OpCommit, types.EntityKey{}, s.next.Commit)
}

func (s *session) Rollback(ctx context.Context) error {
	return s.gw.observe(ctx, OpRollback, types.EntityKey{}, s.next.Rollback)
}
