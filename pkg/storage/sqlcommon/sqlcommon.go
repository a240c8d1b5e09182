// Package sqlcommon implements storage.Datastore on database/sql. The postgres,
// mysql and sqlite packages supply the driver, placeholder format and error
// translation.
package sqlcommon

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/dsrkit/dsrkit/internal/build"
	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/logger"
	"github.com/dsrkit/dsrkit/pkg/policy"
	"github.com/dsrkit/dsrkit/pkg/storage"
)

var tracer = otel.Tracer("dsrkit/pkg/storage/sqlcommon")

// insertBatchSize bounds the rows of one multi-row INSERT so no dialect hits its parameter limit.
const insertBatchSize = 500

// Config defines the configuration parameters
// for setting up and managing a sql connection.
type Config struct {
	Username string
	Password string
	Logger   logger.Logger

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	// PingTimeout bounds how long New waits for the database to answer.
	PingTimeout time.Duration

	ExportMetrics bool
}

// DatastoreOption defines a function type
// used for configuring a Config object.
type DatastoreOption func(*Config)

// WithUsername returns a DatastoreOption that sets the username in the Config.
func WithUsername(username string) DatastoreOption {
	return func(config *Config) {
		config.Username = username
	}
}

// WithPassword returns a DatastoreOption that sets the password in the Config.
func WithPassword(password string) DatastoreOption {
	return func(config *Config) {
		config.Password = password
	}
}

// WithLogger returns a DatastoreOption that sets the Logger in the Config.
func WithLogger(l logger.Logger) DatastoreOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// WithMaxOpenConns returns a DatastoreOption that sets the
// maximum number of open connections in the Config.
func WithMaxOpenConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxOpenConns = c
	}
}

// WithMaxIdleConns returns a DatastoreOption that sets the
// maximum number of idle connections in the Config.
func WithMaxIdleConns(c int) DatastoreOption {
	return func(cfg *Config) {
		cfg.MaxIdleConns = c
	}
}

// WithConnMaxIdleTime returns a DatastoreOption that sets
// the maximum idle time for a connection in the Config.
func WithConnMaxIdleTime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxIdleTime = d
	}
}

// WithConnMaxLifetime returns a DatastoreOption that sets
// the maximum lifetime for a connection in the Config.
func WithConnMaxLifetime(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxLifetime = d
	}
}

func WithPingTimeout(d time.Duration) DatastoreOption {
	return func(cfg *Config) {
		cfg.PingTimeout = d
	}
}

// WithMetrics returns a DatastoreOption that
// enables the export of metrics in the Config.
func WithMetrics() DatastoreOption {
	return func(cfg *Config) {
		cfg.ExportMetrics = true
	}
}

// NewConfig creates a new Config instance with default values
// and applies any provided DatastoreOption modifications.
func NewConfig(opts ...DatastoreOption) *Config {
	cfg := &Config{PingTimeout: time.Minute}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoopLogger()
	}

	return cfg
}

// ErrorHandlerFn translates driver errors into storage errors.
type ErrorHandlerFn func(error) error

// ConfigureDB applies the pool settings, waits for the database to answer a ping and
// registers a DB stats collector when metrics are enabled.
func ConfigureDB(db *sql.DB, cfg *Config) (prometheus.Collector, error) {
	if cfg.MaxOpenConns != 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime != 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime != 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.PingTimeout
	attempt := 1
	err := backoff.Retry(func() error {
		err := db.PingContext(context.Background())
		if err != nil {
			cfg.Logger.Info("waiting for database", zap.Int("attempt", attempt))
			attempt++
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, build.ProjectName)
		if err := prometheus.Register(collector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}
	return collector, nil
}

// Datastore is the database/sql implementation of [storage.Datastore].
type Datastore struct {
	db               *sql.DB
	stbl             sq.StatementBuilderType
	handleSQLError   ErrorHandlerFn
	logger           logger.Logger
	dbStatsCollector prometheus.Collector
	now              func() time.Time
}

var _ storage.Datastore = (*Datastore)(nil)

// NewDatastore wraps an open database. dialect is the goose dialect used to read the
// schema revision.
func NewDatastore(db *sql.DB, placeholder sq.PlaceholderFormat, errorHandler ErrorHandlerFn, dialect string, collector prometheus.Collector, cfg *Config) (*Datastore, error) {
	if err := goose.SetDialect(dialect); err != nil {
		return nil, fmt.Errorf("set database dialect: %w", err)
	}
	return &Datastore{
		db:               db,
		stbl:             sq.StatementBuilder.PlaceholderFormat(placeholder).RunWith(db),
		handleSQLError:   errorHandler,
		logger:           cfg.Logger,
		dbStatsCollector: collector,
		now:              time.Now,
	}, nil
}

// DB exposes the underlying connection pool.
func (s *Datastore) DB() *sql.DB {
	return s.db
}

// Close see [storage.Datastore].Close.
func (s *Datastore) Close() {
	if s.dbStatsCollector != nil {
		prometheus.Unregister(s.dbStatsCollector)
	}
	s.db.Close()
}

func (s *Datastore) timestamp() time.Time {
	return s.now().UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

var privacyRequestColumns = []string{"id", "status", "identity_payload", "policy_payload", "created_at", "updated_at"}

func scanPrivacyRequest(row rowScanner) (*storage.PrivacyRequest, error) {
	var (
		pr                storage.PrivacyRequest
		status            string
		identity, payload sql.NullString
	)
	if err := row.Scan(&pr.ID, &status, &identity, &payload, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
		return nil, err
	}
	pr.Status = storage.RequestStatus(status)
	if err := unmarshalText(identity, &pr.Identity); err != nil {
		return nil, err
	}
	p, err := unmarshalPolicy(payload.String)
	if err != nil {
		return nil, err
	}
	pr.Policy = p
	return &pr, nil
}

// CreatePrivacyRequest see [storage.Datastore].CreatePrivacyRequest.
func (s *Datastore) CreatePrivacyRequest(ctx context.Context, pr *storage.PrivacyRequest) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.CreatePrivacyRequest")
	defer span.End()

	identity, err := marshalText(pr.Identity)
	if err != nil {
		return err
	}
	p, err := marshalPolicy(pr.Policy)
	if err != nil {
		return err
	}

	now := s.timestamp()
	_, err = s.stbl.
		Insert("privacy_request").
		Columns(privacyRequestColumns...).
		Values(pr.ID, string(pr.Status), identity, p, now, now).
		ExecContext(ctx)
	if err != nil {
		return s.handleSQLError(err)
	}
	pr.CreatedAt, pr.UpdatedAt = now, now
	return nil
}

// GetPrivacyRequest see [storage.Datastore].GetPrivacyRequest.
func (s *Datastore) GetPrivacyRequest(ctx context.Context, id string) (*storage.PrivacyRequest, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.GetPrivacyRequest")
	defer span.End()

	row := s.stbl.
		Select(privacyRequestColumns...).
		From("privacy_request").
		Where(sq.Eq{"id": id}).
		QueryRowContext(ctx)
	pr, err := scanPrivacyRequest(row)
	if err != nil {
		return nil, s.handleSQLError(err)
	}
	return pr, nil
}

// ListPrivacyRequests see [storage.Datastore].ListPrivacyRequests.
func (s *Datastore) ListPrivacyRequests(ctx context.Context, statuses ...storage.RequestStatus) ([]*storage.PrivacyRequest, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.ListPrivacyRequests")
	defer span.End()

	sb := s.stbl.Select(privacyRequestColumns...).From("privacy_request").OrderBy("id")
	if len(statuses) > 0 {
		values := make([]string, 0, len(statuses))
		for _, st := range statuses {
			values = append(values, string(st))
		}
		sb = sb.Where(sq.Eq{"status": values})
	}

	rows, err := sb.QueryContext(ctx)
	if err != nil {
		return nil, s.handleSQLError(err)
	}
	defer rows.Close()

	var out []*storage.PrivacyRequest
	for rows.Next() {
		pr, err := scanPrivacyRequest(rows)
		if err != nil {
			return nil, s.handleSQLError(err)
		}
		out = append(out, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, s.handleSQLError(err)
	}
	return out, nil
}

// UpdatePrivacyRequestStatus see [storage.Datastore].UpdatePrivacyRequestStatus.
func (s *Datastore) UpdatePrivacyRequestStatus(ctx context.Context, id string, status storage.RequestStatus) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.UpdatePrivacyRequestStatus")
	defer span.End()

	res, err := s.stbl.
		Update("privacy_request").
		Set("status", string(status)).
		Set("updated_at", s.timestamp()).
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return s.handleSQLError(err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var requestTaskColumns = []string{
	"id", "privacy_request_id", "collection_address", "action_type", "status", "async_type",
	"connector_key", "input_payload", "traversal_details", "output_payload", "rows_masked",
	"message", "retry_count", "created_at", "updated_at",
}

func scanRequestTask(row rowScanner) (*storage.RequestTask, error) {
	var (
		t                               storage.RequestTask
		address, action, status, async  string
		input, details, output, message sql.NullString
	)
	err := row.Scan(
		&t.ID, &t.PrivacyRequestID, &address, &action, &status, &async,
		&t.ConnectorKey, &input, &details, &output, &t.RowsMasked,
		&message, &t.RetryCount, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	addr, err := graph.ParseCollectionAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidRecord, err)
	}
	t.Address = addr
	t.ActionType = policy.ActionType(action)
	t.Status = storage.TaskStatus(status)
	t.AsyncType = storage.AsyncType(async)
	t.Message = message.String

	if t.Collection, err = unmarshalCollection(input); err != nil {
		return nil, err
	}
	var td traversalDetails
	if err := unmarshalText(details, &td); err != nil {
		return nil, err
	}
	t.IncomingEdges, t.Upstream, t.Downstream = td.IncomingEdges, td.Upstream, td.Downstream
	if t.Rows, err = unmarshalRows(output); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateRequestTasks see [storage.Datastore].CreateRequestTasks.
func (s *Datastore) CreateRequestTasks(ctx context.Context, tasks ...*storage.RequestTask) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.CreateRequestTasks")
	defer span.End()

	if len(tasks) == 0 {
		return nil
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.handleSQLError(err)
	}
	defer func() {
		_ = txn.Rollback()
	}()

	now := s.timestamp()
	for start := 0; start < len(tasks); start += insertBatchSize {
		end := min(start+insertBatchSize, len(tasks))
		ib := s.stbl.RunWith(txn).Insert("request_task").Columns(requestTaskColumns...)
		for _, t := range tasks[start:end] {
			input, err := marshalCollection(t.Collection)
			if err != nil {
				return err
			}
			details, err := marshalText(traversalDetails{IncomingEdges: t.IncomingEdges, Upstream: t.Upstream, Downstream: t.Downstream})
			if err != nil {
				return err
			}
			output, err := marshalRows(t.Rows)
			if err != nil {
				return err
			}
			ib = ib.Values(
				t.ID, t.PrivacyRequestID, t.Address.String(), string(t.ActionType), string(t.Status), string(t.AsyncType),
				t.ConnectorKey, input, details, output, t.RowsMasked,
				t.Message, t.RetryCount, now, now,
			)
		}
		if _, err := ib.ExecContext(ctx); err != nil {
			return s.handleSQLError(err)
		}
	}

	if err := txn.Commit(); err != nil {
		return s.handleSQLError(err)
	}
	for _, t := range tasks {
		t.CreatedAt, t.UpdatedAt = now, now
	}
	return nil
}

// GetRequestTask see [storage.Datastore].GetRequestTask.
func (s *Datastore) GetRequestTask(ctx context.Context, id string) (*storage.RequestTask, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.GetRequestTask")
	defer span.End()

	row := s.stbl.
		Select(requestTaskColumns...).
		From("request_task").
		Where(sq.Eq{"id": id}).
		QueryRowContext(ctx)
	t, err := scanRequestTask(row)
	if err != nil {
		return nil, s.handleSQLError(err)
	}
	return t, nil
}

// ListRequestTasks see [storage.Datastore].ListRequestTasks.
func (s *Datastore) ListRequestTasks(ctx context.Context, filter storage.TaskFilter) ([]*storage.RequestTask, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.ListRequestTasks")
	defer span.End()

	sb := s.stbl.Select(requestTaskColumns...).From("request_task").OrderBy("id")
	if filter.PrivacyRequestID != "" {
		sb = sb.Where(sq.Eq{"privacy_request_id": filter.PrivacyRequestID})
	}
	if filter.ActionType != "" {
		sb = sb.Where(sq.Eq{"action_type": string(filter.ActionType)})
	}
	if len(filter.Statuses) > 0 {
		values := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			values = append(values, string(st))
		}
		sb = sb.Where(sq.Eq{"status": values})
	}

	rows, err := sb.QueryContext(ctx)
	if err != nil {
		return nil, s.handleSQLError(err)
	}
	defer rows.Close()

	var out []*storage.RequestTask
	for rows.Next() {
		t, err := scanRequestTask(rows)
		if err != nil {
			return nil, s.handleSQLError(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.handleSQLError(err)
	}
	return out, nil
}

// ClaimRequestTask see [storage.Datastore].ClaimRequestTask.
func (s *Datastore) ClaimRequestTask(ctx context.Context, id string, from []storage.TaskStatus, to storage.TaskStatus) (bool, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.ClaimRequestTask")
	defer span.End()

	values := make([]string, 0, len(from))
	for _, st := range from {
		values = append(values, string(st))
	}
	res, err := s.stbl.
		Update("request_task").
		Set("status", string(to)).
		Set("updated_at", s.timestamp()).
		Where(sq.Eq{"id": id, "status": values}).
		ExecContext(ctx)
	if err != nil {
		return false, s.handleSQLError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	if _, err := s.GetRequestTask(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateRequestTask see [storage.Datastore].UpdateRequestTask.
func (s *Datastore) UpdateRequestTask(ctx context.Context, t *storage.RequestTask) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.UpdateRequestTask")
	defer span.End()

	output, err := marshalRows(t.Rows)
	if err != nil {
		return err
	}
	now := s.timestamp()
	res, err := s.stbl.
		Update("request_task").
		SetMap(map[string]any{
			"status":         string(t.Status),
			"async_type":     string(t.AsyncType),
			"output_payload": output,
			"rows_masked":    t.RowsMasked,
			"message":        t.Message,
			"retry_count":    t.RetryCount,
			"updated_at":     now,
		}).
		Where(sq.Eq{"id": t.ID}).
		ExecContext(ctx)
	if err != nil {
		return s.handleSQLError(err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	t.UpdatedAt = now
	return nil
}

// DeleteRequestTasks see [storage.Datastore].DeleteRequestTasks.
func (s *Datastore) DeleteRequestTasks(ctx context.Context, ids ...string) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.DeleteRequestTasks")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.handleSQLError(err)
	}
	defer func() {
		_ = txn.Rollback()
	}()

	if err := deleteTasks(ctx, s.stbl.RunWith(txn), ids); err != nil {
		return s.handleSQLError(err)
	}
	if err := txn.Commit(); err != nil {
		return s.handleSQLError(err)
	}
	return nil
}

func deleteTasks(ctx context.Context, stbl sq.StatementBuilderType, ids []string) error {
	for start := 0; start < len(ids); start += insertBatchSize {
		batch := ids[start:min(start+insertBatchSize, len(ids))]
		if _, err := stbl.Delete("sub_request").Where(sq.Eq{"request_task_id": batch}).ExecContext(ctx); err != nil {
			return err
		}
		if _, err := stbl.Delete("request_task").Where(sq.Eq{"id": batch}).ExecContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

var subRequestColumns = []string{"id", "request_task_id", "correlation_id", "status", "output_payload", "message", "created_at", "updated_at"}

func scanSubRequest(row rowScanner) (*storage.SubRequest, error) {
	var (
		sr              storage.SubRequest
		status          string
		output, message sql.NullString
	)
	if err := row.Scan(&sr.ID, &sr.RequestTaskID, &sr.CorrelationID, &status, &output, &message, &sr.CreatedAt, &sr.UpdatedAt); err != nil {
		return nil, err
	}
	sr.Status = storage.TaskStatus(status)
	sr.Message = message.String
	rows, err := unmarshalRows(output)
	if err != nil {
		return nil, err
	}
	sr.Rows = rows
	return &sr, nil
}

// CreateSubRequests see [storage.Datastore].CreateSubRequests.
func (s *Datastore) CreateSubRequests(ctx context.Context, subs ...*storage.SubRequest) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.CreateSubRequests")
	defer span.End()

	if len(subs) == 0 {
		return nil
	}

	now := s.timestamp()
	ib := s.stbl.Insert("sub_request").Columns(subRequestColumns...)
	for _, sr := range subs {
		output, err := marshalRows(sr.Rows)
		if err != nil {
			return err
		}
		ib = ib.Values(sr.ID, sr.RequestTaskID, sr.CorrelationID, string(sr.Status), output, sr.Message, now, now)
	}
	if _, err := ib.ExecContext(ctx); err != nil {
		return s.handleSQLError(err)
	}
	for _, sr := range subs {
		sr.CreatedAt, sr.UpdatedAt = now, now
	}
	return nil
}

// ListSubRequests see [storage.Datastore].ListSubRequests.
func (s *Datastore) ListSubRequests(ctx context.Context, requestTaskID string) ([]*storage.SubRequest, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.ListSubRequests")
	defer span.End()

	rows, err := s.stbl.
		Select(subRequestColumns...).
		From("sub_request").
		Where(sq.Eq{"request_task_id": requestTaskID}).
		OrderBy("id").
		QueryContext(ctx)
	if err != nil {
		return nil, s.handleSQLError(err)
	}
	defer rows.Close()

	var out []*storage.SubRequest
	for rows.Next() {
		sr, err := scanSubRequest(rows)
		if err != nil {
			return nil, s.handleSQLError(err)
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, s.handleSQLError(err)
	}
	return out, nil
}

// UpdateSubRequest see [storage.Datastore].UpdateSubRequest.
func (s *Datastore) UpdateSubRequest(ctx context.Context, sr *storage.SubRequest) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.UpdateSubRequest")
	defer span.End()

	output, err := marshalRows(sr.Rows)
	if err != nil {
		return err
	}
	now := s.timestamp()
	res, err := s.stbl.
		Update("sub_request").
		Set("status", string(sr.Status)).
		Set("output_payload", output).
		Set("message", sr.Message).
		Set("updated_at", now).
		Where(sq.Eq{"id": sr.ID}).
		ExecContext(ctx)
	if err != nil {
		return s.handleSQLError(err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	sr.UpdatedAt = now
	return nil
}

var executionLogColumns = []string{"id", "privacy_request_id", "collection_address", "action_type", "status", "message", "created_at"}

// AppendExecutionLog see [storage.Datastore].AppendExecutionLog.
func (s *Datastore) AppendExecutionLog(ctx context.Context, l *storage.ExecutionLog) error {
	ctx, span := tracer.Start(ctx, "sqlcommon.AppendExecutionLog")
	defer span.End()

	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.timestamp()
	}
	_, err := s.stbl.
		Insert("execution_log").
		Columns(executionLogColumns...).
		Values(l.ID, l.PrivacyRequestID, l.Address.String(), string(l.ActionType), string(l.Status), l.Message, l.CreatedAt.UTC()).
		ExecContext(ctx)
	if err != nil {
		return s.handleSQLError(err)
	}
	return nil
}

// ListExecutionLogs see [storage.Datastore].ListExecutionLogs.
func (s *Datastore) ListExecutionLogs(ctx context.Context, privacyRequestID string) ([]*storage.ExecutionLog, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.ListExecutionLogs")
	defer span.End()

	rows, err := s.stbl.
		Select(executionLogColumns...).
		From("execution_log").
		Where(sq.Eq{"privacy_request_id": privacyRequestID}).
		OrderBy("id").
		QueryContext(ctx)
	if err != nil {
		return nil, s.handleSQLError(err)
	}
	defer rows.Close()

	var out []*storage.ExecutionLog
	for rows.Next() {
		var (
			l                       storage.ExecutionLog
			address, action, status string
			message                 sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.PrivacyRequestID, &address, &action, &status, &message, &l.CreatedAt); err != nil {
			return nil, s.handleSQLError(err)
		}
		addr, err := graph.ParseCollectionAddress(address)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidRecord, err)
		}
		l.Address = addr
		l.ActionType = policy.ActionType(action)
		l.Status = storage.TaskStatus(status)
		l.Message = message.String
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, s.handleSQLError(err)
	}
	return out, nil
}

// DeleteExpiredRequests see [storage.Datastore].DeleteExpiredRequests.
func (s *Datastore) DeleteExpiredRequests(ctx context.Context, before time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "sqlcommon.DeleteExpiredRequests")
	defer span.End()

	terminal := []string{string(storage.RequestComplete), string(storage.RequestError), string(storage.RequestCanceled)}
	requestIDs, err := s.selectIDs(ctx, s.stbl.
		Select("id").
		From("privacy_request").
		Where(sq.Eq{"status": terminal}).
		Where(sq.Lt{"updated_at": before.UTC()}))
	if err != nil {
		return 0, err
	}
	if len(requestIDs) == 0 {
		return 0, nil
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.handleSQLError(err)
	}
	defer func() {
		_ = txn.Rollback()
	}()
	stbl := s.stbl.RunWith(txn)

	for start := 0; start < len(requestIDs); start += insertBatchSize {
		batch := requestIDs[start:min(start+insertBatchSize, len(requestIDs))]
		taskIDs, err := s.selectIDs(ctx, stbl.Select("id").From("request_task").Where(sq.Eq{"privacy_request_id": batch}))
		if err != nil {
			return 0, err
		}
		if err := deleteTasks(ctx, stbl, taskIDs); err != nil {
			return 0, s.handleSQLError(err)
		}
		if _, err := stbl.Delete("execution_log").Where(sq.Eq{"privacy_request_id": batch}).ExecContext(ctx); err != nil {
			return 0, s.handleSQLError(err)
		}
		if _, err := stbl.Delete("privacy_request").Where(sq.Eq{"id": batch}).ExecContext(ctx); err != nil {
			return 0, s.handleSQLError(err)
		}
	}

	if err := txn.Commit(); err != nil {
		return 0, s.handleSQLError(err)
	}
	s.logger.Debug("deleted expired privacy requests", zap.Int("count", len(requestIDs)))
	return len(requestIDs), nil
}

func (s *Datastore) selectIDs(ctx context.Context, sb sq.SelectBuilder) ([]string, error) {
	rows, err := sb.QueryContext(ctx)
	if err != nil {
		return nil, s.handleSQLError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.handleSQLError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.handleSQLError(err)
	}
	return ids, nil
}

// IsReady see [storage.Datastore].IsReady.
func (s *Datastore) IsReady(ctx context.Context) (storage.ReadinessStatus, error) {
	return IsReady(ctx, false, s.db)
}

// IsReady returns true if connection to datastore is successful AND
// (the datastore has the latest migration applied OR skipVersionCheck).
func IsReady(ctx context.Context, skipVersionCheck bool, db *sql.DB) (storage.ReadinessStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// do ping first to ensure we have better error message
	// if error is due to connection issue.
	if pingErr := db.PingContext(ctx); pingErr != nil {
		return storage.ReadinessStatus{}, pingErr
	}

	if skipVersionCheck {
		return storage.ReadinessStatus{
			IsReady: true,
		}, nil
	}

	revision, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return storage.ReadinessStatus{}, err
	}

	if revision < build.MinimumSupportedDatastoreSchemaRevision {
		return storage.ReadinessStatus{
			Message: "datastore requires migrations: at revision '" +
				strconv.FormatInt(revision, 10) +
				"', but requires '" +
				strconv.FormatInt(build.MinimumSupportedDatastoreSchemaRevision, 10) +
				"'. Run 'dsrkit migrate'.",
			IsReady: false,
		}, nil
	}
	return storage.ReadinessStatus{
		IsReady: true,
	}, nil
}
