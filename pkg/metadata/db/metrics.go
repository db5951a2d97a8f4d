// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeeDigitalWorks/vospace/pkg/node"
	"github.com/LeeDigitalWorks/vospace/pkg/types"
)

// Metrics for database operations
var (
	dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vospace_db_query_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation", "status"},
	)

	dbQueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vospace_db_queries_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	dbConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vospace_db_connections_active",
			Help: "Number of active database connections",
		},
	)

	dbConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vospace_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		dbQueryDuration,
		dbQueryTotal,
		dbConnectionsActive,
		dbConnectionsIdle,
	)
}

// UpdateConnectionMetrics updates connection pool metrics from sql.DBStats
func UpdateConnectionMetrics(stats sql.DBStats) {
	dbConnectionsActive.Set(float64(stats.InUse))
	dbConnectionsIdle.Set(float64(stats.Idle))
}

// recordMetric records timing and status for an operation. Not-found
// results are expected lookups, not failures.
func recordMetric(operation string, start time.Time, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrNodeNotFound), errors.Is(err, ErrJobNotFound), errors.Is(err, ErrShareNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	dbQueryDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	dbQueryTotal.WithLabelValues(operation, status).Inc()
}

func timed[T any](operation string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	recordMetric(operation, start, err)
	return v, err
}

func timedErr(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	recordMetric(operation, start, err)
	return err
}

// MetricsDB wraps a DB implementation and adds metrics instrumentation
type MetricsDB struct {
	db DB
}

// NewMetricsDB creates a new metrics-instrumented DB wrapper
func NewMetricsDB(db DB) *MetricsDB {
	return &MetricsDB{db: db}
}

var _ DB = (*MetricsDB)(nil)

// Unwrap returns the underlying DB implementation
func (m *MetricsDB) Unwrap() DB {
	return m.db
}

// Close closes the database connection
func (m *MetricsDB) Close() error {
	return m.db.Close()
}

func (m *MetricsDB) Ping(ctx context.Context) error {
	return timedErr("ping", func() error { return m.db.Ping(ctx) })
}

// Migrate runs database migrations
func (m *MetricsDB) Migrate(ctx context.Context) error {
	return timedErr("migrate", func() error { return m.db.Migrate(ctx) })
}

// ============================================================================
// NodeStore implementation
// ============================================================================

func (m *MetricsDB) IsStored(ctx context.Context, owner string, p node.Path) (bool, error) {
	return timed("is_stored", func() (bool, error) { return m.db.IsStored(ctx, owner, p) })
}

func (m *MetricsDB) GetInfo(ctx context.Context, owner string, p node.Path) (node.Info, error) {
	return timed("get_info", func() (node.Info, error) { return m.db.GetInfo(ctx, owner, p) })
}

func (m *MetricsDB) GetType(ctx context.Context, owner string, p node.Path) (node.Type, error) {
	return timed("get_type", func() (node.Type, error) { return m.db.GetType(ctx, owner, p) })
}

func (m *MetricsDB) GetChildren(ctx context.Context, owner string, p node.Path, start, count int, includeDeleted bool) ([]node.Stub, int, error) {
	began := time.Now()
	children, total, err := m.db.GetChildren(ctx, owner, p, start, count, includeDeleted)
	recordMetric("get_children", began, err)
	return children, total, err
}

func (m *MetricsDB) Subtree(ctx context.Context, owner string, p node.Path, includeDeleted bool) ([]node.Stub, error) {
	return timed("subtree", func() ([]node.Stub, error) { return m.db.Subtree(ctx, owner, p, includeDeleted) })
}

func (m *MetricsDB) StoreData(ctx context.Context, owner string, p node.Path, typ node.Type) error {
	return timedErr("store_data", func() error { return m.db.StoreData(ctx, owner, p, typ) })
}

func (m *MetricsDB) StoreInfo(ctx context.Context, owner string, p node.Path, info node.Info) error {
	return timedErr("store_info", func() error { return m.db.StoreInfo(ctx, owner, p, info) })
}

func (m *MetricsDB) MarkRemoved(ctx context.Context, owner string, p node.Path) error {
	return timedErr("mark_removed", func() error { return m.db.MarkRemoved(ctx, owner, p) })
}

func (m *MetricsDB) Remove(ctx context.Context, owner string, p node.Path) error {
	return timedErr("remove", func() error { return m.db.Remove(ctx, owner, p) })
}

func (m *MetricsDB) Search(ctx context.Context, owner string, p node.Path, pattern string, limit int, includeDeleted bool) ([]node.Path, error) {
	return timed("search", func() ([]node.Path, error) {
		return m.db.Search(ctx, owner, p, pattern, limit, includeDeleted)
	})
}

func (m *MetricsDB) Move(ctx context.Context, owner string, p, dst node.Path) error {
	return timedErr("move", func() error { return m.db.Move(ctx, owner, p, dst) })
}

func (m *MetricsDB) Revisions(ctx context.Context, owner string, p node.Path) ([]node.Info, error) {
	return timed("revisions", func() ([]node.Info, error) { return m.db.Revisions(ctx, owner, p) })
}

// ============================================================================
// PropertyStore / ShareStore / RegionStore implementation
// ============================================================================

func (m *MetricsDB) UpdateUserProperties(ctx context.Context, owner string, p node.Path, props map[string]*string) error {
	return timedErr("update_properties", func() error { return m.db.UpdateUserProperties(ctx, owner, p, props) })
}

func (m *MetricsDB) GetProperties(ctx context.Context, owner string, p node.Path) ([]Property, error) {
	return timed("get_properties", func() ([]Property, error) { return m.db.GetProperties(ctx, owner, p) })
}

func (m *MetricsDB) CreateShare(ctx context.Context, owner string, p node.Path, groupID string, write bool) (string, error) {
	return timed("create_share", func() (string, error) { return m.db.CreateShare(ctx, owner, p, groupID, write) })
}

func (m *MetricsDB) GetShare(ctx context.Context, token string) (*Share, error) {
	return timed("get_share", func() (*Share, error) { return m.db.GetShare(ctx, token) })
}

func (m *MetricsDB) GetContainerRegions(ctx context.Context, owner, container string) (map[string]string, error) {
	return timed("get_container_regions", func() (map[string]string, error) {
		return m.db.GetContainerRegions(ctx, owner, container)
	})
}

func (m *MetricsDB) SetContainerRegions(ctx context.Context, owner, container string, regions map[string]string) error {
	return timedErr("set_container_regions", func() error {
		return m.db.SetContainerRegions(ctx, owner, container, regions)
	})
}

// ============================================================================
// JobStore implementation
// ============================================================================

func (m *MetricsDB) InsertJob(ctx context.Context, job *types.TransferJob) error {
	return timedErr("insert_job", func() error { return m.db.InsertJob(ctx, job) })
}

func (m *MetricsDB) GetJob(ctx context.Context, id uuid.UUID) (*types.TransferJob, error) {
	return timed("get_job", func() (*types.TransferJob, error) { return m.db.GetJob(ctx, id) })
}

func (m *MetricsDB) UpdateJobState(ctx context.Context, id uuid.UUID, state types.JobState, note string, at time.Time) (*types.TransferJob, error) {
	return timed("update_job_state", func() (*types.TransferJob, error) {
		return m.db.UpdateJobState(ctx, id, state, note, at)
	})
}

func (m *MetricsDB) ListJobs(ctx context.Context, owner string) ([]*types.TransferJob, error) {
	return timed("list_jobs", func() ([]*types.TransferJob, error) { return m.db.ListJobs(ctx, owner) })
}

func (m *MetricsDB) ListJobsByState(ctx context.Context, state types.JobState) ([]*types.TransferJob, error) {
	return timed("list_jobs_by_state", func() ([]*types.TransferJob, error) { return m.db.ListJobsByState(ctx, state) })
}
