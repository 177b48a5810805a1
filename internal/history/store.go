// Package history implements the History Store: a batched Postgres writer
// that taps every StateUpdateMessage the Host Manager applies and persists
// it as a durable time series. Records accumulate in memory and flush via
// the pgx COPY protocol on a ticker or once a batch fills, with failed
// flushes requeued up to a consecutive-failure limit, across the two record
// kinds this system produces (monitor data points and command results).
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/nmslite/nmslite/internal/config"
	"github.com/nmslite/nmslite/internal/domain"
)

// dataPointRecord is one monitor observation ready for insertion.
type dataPointRecord struct {
	HostName     string
	MonitorID    string
	Label        string
	Value        string
	Criticality  domain.Criticality
	InvocationID int64
	IsFromCache  bool
	RecordedAt   time.Time
}

// commandRecord is one command outcome ready for insertion.
type commandRecord struct {
	HostName     string
	CommandID    string
	Message      string
	Criticality  domain.Criticality
	InvocationID int64
	RecordedAt   time.Time
}

// Migrate runs every pending embedded migration against the database
// named by cfg, using goose over a stdlib *sql.DB (goose's driver
// contract), independent of the pgxpool used for steady-state writes.
func Migrate(cfg config.DatabaseConfig) error {
	connConfig, err := pgx.ParseConfig(cfg.ConnString())
	if err != nil {
		return fmt.Errorf("parse connection string: %w", err)
	}

	db := stdlib.OpenDB(*connConfig)
	defer db.Close()

	goose.SetBaseFS(embeddedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Store is the History Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	cfg    config.DatabaseConfig

	submitCh chan any // dataPointRecord or commandRecord

	mu               sync.Mutex
	dataPointBatch   []dataPointRecord
	commandBatch     []commandRecord
	requeueDataPoint []dataPointRecord
	requeueCommand   []commandRecord

	consecutiveFailures int
	maxConsecutiveFails int
}

// Open connects a pgxpool using cfg's pool tuning knobs.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.Pool.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.Pool.MaxConns)
	}
	if cfg.Pool.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.Pool.MinConns)
	}
	if cfg.Pool.MaxConnLifetimeMinutes > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.Pool.MaxConnLifetimeMinutes) * time.Minute
	}
	if cfg.Pool.MaxConnIdleTimeMinutes > 0 {
		poolCfg.MaxConnIdleTime = time.Duration(cfg.Pool.MaxConnIdleTimeMinutes) * time.Minute
	}
	if cfg.Pool.HealthCheckPeriodSeconds > 0 {
		poolCfg.HealthCheckPeriod = time.Duration(cfg.Pool.HealthCheckPeriodSeconds) * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	return &Store{
		pool:                pool,
		logger:              logger.With("component", "history_store"),
		cfg:                 cfg,
		submitCh:            make(chan any, batchSize*2),
		dataPointBatch:      make([]dataPointRecord, 0, batchSize),
		commandBatch:        make([]commandRecord, 0, batchSize),
		maxConsecutiveFails: 5,
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Listen installs Submit as the Host Manager's history tap.
func (s *Store) Listen(msg domain.StateUpdateMessage) {
	s.Submit(msg)
}

// Submit enqueues a StateUpdateMessage for persistence, never blocking the
// Host Manager's single update loop: a full buffer drops the record with a
// logged warning rather than applying backpressure upstream.
func (s *Store) Submit(msg domain.StateUpdateMessage) {
	now := time.Now()

	if msg.DataPoint != nil {
		rec := dataPointRecord{
			HostName:     msg.HostName,
			MonitorID:    msg.ModuleSpec.ID,
			Label:        msg.DataPoint.Label,
			Value:        msg.DataPoint.Value,
			Criticality:  msg.DataPoint.Criticality,
			InvocationID: msg.DataPoint.InvocationID,
			IsFromCache:  msg.DataPoint.IsFromCache,
			RecordedAt:   now,
		}
		select {
		case s.submitCh <- rec:
		default:
			s.logger.Warn("submit channel full, dropping data point", "host", msg.HostName, "monitor", msg.ModuleSpec.ID)
		}
	}

	if msg.CommandResult != nil {
		rec := commandRecord{
			HostName:     msg.HostName,
			CommandID:    msg.ModuleSpec.ID,
			Message:      msg.CommandResult.Message,
			Criticality:  msg.CommandResult.Criticality,
			InvocationID: msg.CommandResult.InvocationID,
			RecordedAt:   now,
		}
		select {
		case s.submitCh <- rec:
		default:
			s.logger.Warn("submit channel full, dropping command result", "host", msg.HostName, "command", msg.ModuleSpec.ID)
		}
	}
}

// Run is the batched-writer main loop: accumulate until batchSize or
// flushInterval, whichever comes first, then COPY the batch in.
func (s *Store) Run(ctx context.Context) {
	flushInterval := s.cfg.FlushInterval()
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("history store shutting down, flushing remaining data")
			if err := s.flush(context.Background()); err != nil {
				s.logger.Error("final flush failed", "error", err)
			}
			return

		case rec := <-s.submitCh:
			s.mu.Lock()
			switch r := rec.(type) {
			case dataPointRecord:
				s.dataPointBatch = append(s.dataPointBatch, r)
			case commandRecord:
				s.commandBatch = append(s.commandBatch, r)
			}
			full := len(s.dataPointBatch) >= batchSize || len(s.commandBatch) >= batchSize
			s.mu.Unlock()

			if full {
				if err := s.flush(ctx); err != nil {
					s.logger.Error("flush on batch size failed", "error", err)
				}
			}

		case <-ticker.C:
			s.mu.Lock()
			hasData := len(s.dataPointBatch) > 0 || len(s.commandBatch) > 0
			s.mu.Unlock()
			if hasData {
				if err := s.flush(ctx); err != nil {
					s.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}
}

func (s *Store) flush(ctx context.Context) error {
	s.mu.Lock()
	dpBatch := s.dataPointBatch
	cmdBatch := s.commandBatch
	s.dataPointBatch = make([]dataPointRecord, 0, cap(dpBatch))
	s.commandBatch = make([]commandRecord, 0, cap(cmdBatch))

	dpBatch = append(s.requeueDataPoint, dpBatch...)
	cmdBatch = append(s.requeueCommand, cmdBatch...)
	s.requeueDataPoint = nil
	s.requeueCommand = nil
	s.mu.Unlock()

	if len(dpBatch) == 0 && len(cmdBatch) == 0 {
		return nil
	}

	err := s.writeBatch(ctx, dpBatch, cmdBatch)
	if err != nil {
		s.logger.Error("history batch write failed", "error", err, "data_points", len(dpBatch), "commands", len(cmdBatch))
		s.mu.Lock()
		s.consecutiveFailures++
		if s.consecutiveFailures < s.maxConsecutiveFails {
			s.requeueDataPoint = dpBatch
			s.requeueCommand = cmdBatch
		} else {
			s.logger.Error("max consecutive history write failures, dropping batch", "consecutive_failures", s.consecutiveFailures)
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.consecutiveFailures = 0
	s.mu.Unlock()
	return nil
}

func (s *Store) writeBatch(ctx context.Context, dpBatch []dataPointRecord, cmdBatch []commandRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(dpBatch) > 0 {
		_, err := tx.Conn().CopyFrom(ctx,
			pgx.Identifier{"datapoint_history"},
			[]string{"host_name", "monitor_id", "label", "value", "criticality", "invocation_id", "is_from_cache", "recorded_at"},
			pgx.CopyFromSlice(len(dpBatch), func(i int) ([]any, error) {
				r := dpBatch[i]
				return []any{r.HostName, r.MonitorID, r.Label, r.Value, int16(r.Criticality), r.InvocationID, r.IsFromCache, r.RecordedAt}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy data points: %w", err)
		}
	}

	if len(cmdBatch) > 0 {
		_, err := tx.Conn().CopyFrom(ctx,
			pgx.Identifier{"command_history"},
			[]string{"host_name", "command_id", "message", "criticality", "invocation_id", "recorded_at"},
			pgx.CopyFromSlice(len(cmdBatch), func(i int) ([]any, error) {
				r := cmdBatch[i]
				return []any{r.HostName, r.CommandID, r.Message, int16(r.Criticality), r.InvocationID, r.RecordedAt}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy command results: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// InvocationRecord is one row the Frontend Bridge's single per-host history
// endpoint returns: a flattened projection of a StateUpdateMessage, unifying
// monitor data points and command results under one shape.
type InvocationRecord struct {
	InvocationID int64     `json:"invocation_id"`
	HostName     string    `json:"host_name"`
	ModuleID     string    `json:"module_id"`
	Kind         string    `json:"kind"` // "monitor" or "command"
	Criticality  string    `json:"criticality"`
	Summary      string    `json:"summary"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// QueryHostHistory returns the most recent InvocationRecords for a host,
// merging monitor data points and command results into one newest-first
// timeline bounded by limit.
func (s *Store) QueryHostHistory(ctx context.Context, hostName string, limit int) ([]InvocationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT invocation_id, host_name, module_id, kind, criticality, summary, occurred_at FROM (
			SELECT invocation_id, host_name, monitor_id AS module_id, 'monitor' AS kind,
			       criticality, label || '=' || value AS summary, recorded_at AS occurred_at
			FROM datapoint_history WHERE host_name = $1
			UNION ALL
			SELECT invocation_id, host_name, command_id AS module_id, 'command' AS kind,
			       criticality, message AS summary, recorded_at AS occurred_at
			FROM command_history WHERE host_name = $1
		 ) combined
		 ORDER BY occurred_at DESC
		 LIMIT $2`,
		hostName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query host history: %w", err)
	}
	defer rows.Close()

	var out []InvocationRecord
	for rows.Next() {
		var rec InvocationRecord
		var criticality int16
		if err := rows.Scan(&rec.InvocationID, &rec.HostName, &rec.ModuleID, &rec.Kind, &criticality, &rec.Summary, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan invocation record: %w", err)
		}
		rec.Criticality = domain.Criticality(criticality).String()
		out = append(out, rec)
	}
	return out, rows.Err()
}
