package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/optiflow/optiflow-engine/pkg/apperrors"
	"github.com/optiflow/optiflow-engine/pkg/audit"
	sqlcheck "github.com/optiflow/optiflow-engine/pkg/sql"
	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Querier is the subset of pgx used by PostgresExecutor.
// Satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresExecutor runs operations against one table per entity kind.
type PostgresExecutor struct {
	db      Querier
	auditor *audit.SecurityAuditor
	logger  *zap.Logger
}

// NewPostgresExecutor creates an executor over db. auditor may be nil.
func NewPostgresExecutor(db Querier, auditor *audit.SecurityAuditor, logger *zap.Logger) *PostgresExecutor {
	return &PostgresExecutor{
		db:      db,
		auditor: auditor,
		logger:  logger.Named("store"),
	}
}

// Execute compiles op into a single SQL statement and runs it.
func (p *PostgresExecutor) Execute(ctx context.Context, op tenant.Operation) (tenant.Result, error) {
	if op.Action == tenant.ActionRaw {
		return p.raw(ctx, op)
	}

	l, ok := layoutFor(op.Kind)
	if !ok {
		return tenant.Result{}, fmt.Errorf("%q: %w", op.Kind, apperrors.ErrUnknownEntity)
	}

	p.screen(ctx, op)

	switch op.Action {
	case tenant.ActionReadOne, tenant.ActionReadUnique:
		stmt, err := buildSelect(l, op, true)
		if err != nil {
			return tenant.Result{}, err
		}
		records, err := p.queryRecords(ctx, l, stmt)
		if err != nil {
			return tenant.Result{}, err
		}
		if len(records) == 0 {
			return tenant.Result{}, nil
		}
		return tenant.Result{Record: project(records[0], op.Select)}, nil

	case tenant.ActionReadMany:
		stmt, err := buildSelect(l, op, false)
		if err != nil {
			return tenant.Result{}, err
		}
		records, err := p.queryRecords(ctx, l, stmt)
		if err != nil {
			return tenant.Result{}, err
		}
		for i := range records {
			records[i] = project(records[i], op.Select)
		}
		return tenant.Result{Records: records}, nil

	case tenant.ActionCount:
		stmt, err := buildCount(l, op)
		if err != nil {
			return tenant.Result{}, err
		}
		var n int64
		if err := p.db.QueryRow(ctx, stmt.sql, stmt.args...).Scan(&n); err != nil {
			return tenant.Result{}, fmt.Errorf("count %s: %w", l.table, err)
		}
		return tenant.Result{Count: n}, nil

	case tenant.ActionAggregate:
		return p.aggregate(ctx, l, op)

	case tenant.ActionCreate:
		return p.create(ctx, l, op)

	case tenant.ActionUpdate:
		stmt, err := buildUpdate(l, op, true)
		if err != nil {
			return tenant.Result{}, err
		}
		return p.mutateOne(ctx, l, op, stmt)

	case tenant.ActionDelete:
		stmt, err := buildDelete(l, op, true)
		if err != nil {
			return tenant.Result{}, err
		}
		return p.mutateOne(ctx, l, op, stmt)

	case tenant.ActionUpdateMany:
		stmt, err := buildUpdate(l, op, false)
		if err != nil {
			return tenant.Result{}, err
		}
		return p.exec(ctx, l, stmt)

	case tenant.ActionDeleteMany:
		stmt, err := buildDelete(l, op, false)
		if err != nil {
			return tenant.Result{}, err
		}
		return p.exec(ctx, l, stmt)
	}

	return tenant.Result{}, fmt.Errorf("unsupported action %q: %w", op.Action, apperrors.ErrInvalidArg)
}

// screen reports predicate values that look like SQL injection.
// Values are always bound as parameters, so this only feeds the audit log.
func (p *PostgresExecutor) screen(ctx context.Context, op tenant.Operation) {
	if p.auditor == nil {
		return
	}
	for _, hit := range sqlcheck.CheckWhere(op.Where) {
		p.auditor.LogInjectionAttempt(ctx, string(op.Kind), audit.SQLInjectionDetails{
			Path:        hit.Path,
			Value:       fmt.Sprint(hit.Value),
			Fingerprint: hit.Fingerprint,
			Action:      string(op.Action),
		})
	}
}

func (p *PostgresExecutor) queryRecords(ctx context.Context, l *layout, stmt statement) ([]tenant.Record, error) {
	rows, err := p.db.Query(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", l.table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", l.table, err)
	}
	records := make([]tenant.Record, len(maps))
	for i, row := range maps {
		records[i] = l.toRecord(row)
	}
	return records, nil
}

func (p *PostgresExecutor) aggregate(ctx context.Context, l *layout, op tenant.Operation) (tenant.Result, error) {
	stmt, err := buildAggregate(l, op)
	if err != nil {
		return tenant.Result{}, err
	}

	var (
		n            int64
		minAt, maxAt *time.Time
	)
	if err := p.db.QueryRow(ctx, stmt.sql, stmt.args...).Scan(&n, &minAt, &maxAt); err != nil {
		return tenant.Result{}, fmt.Errorf("aggregate %s: %w", l.table, err)
	}

	agg := map[string]any{"_count": n}
	if minAt != nil && maxAt != nil {
		agg["_min"] = map[string]any{FieldCreatedAt: *minAt}
		agg["_max"] = map[string]any{FieldCreatedAt: *maxAt}
	}
	return tenant.Result{Aggregate: agg}, nil
}

func (p *PostgresExecutor) create(ctx context.Context, l *layout, op tenant.Operation) (tenant.Result, error) {
	data := make(map[string]any, len(op.Data)+1)
	for k, v := range op.Data {
		data[k] = v
	}
	if !hasID(data) {
		data[FieldID] = uuid.NewString()
	}

	stmt, err := buildInsert(l, data)
	if err != nil {
		return tenant.Result{}, err
	}
	records, err := p.queryRecords(ctx, l, stmt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return tenant.Result{}, fmt.Errorf("%s %v already exists: %w", op.Kind, data[FieldID], apperrors.ErrConflict)
		}
		return tenant.Result{}, err
	}
	if len(records) == 0 {
		return tenant.Result{}, fmt.Errorf("insert %s returned no row", l.table)
	}
	return tenant.Result{Record: records[0]}, nil
}

// mutateOne runs a singular update or delete that returns the affected row.
func (p *PostgresExecutor) mutateOne(ctx context.Context, l *layout, op tenant.Operation, stmt statement) (tenant.Result, error) {
	records, err := p.queryRecords(ctx, l, stmt)
	if err != nil {
		return tenant.Result{}, err
	}
	if len(records) == 0 {
		return tenant.Result{}, fmt.Errorf("%s: %w", op.Kind, apperrors.ErrNotFound)
	}
	return tenant.Result{Record: project(records[0], op.Select)}, nil
}

func (p *PostgresExecutor) exec(ctx context.Context, l *layout, stmt statement) (tenant.Result, error) {
	tag, err := p.db.Exec(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return tenant.Result{}, fmt.Errorf("exec %s: %w", l.table, err)
	}
	return tenant.Result{Count: tag.RowsAffected()}, nil
}

// raw runs op.SQL as a single statement. Rows are returned keyed by column name.
func (p *PostgresExecutor) raw(ctx context.Context, op tenant.Operation) (tenant.Result, error) {
	stmt, err := sqlcheck.NormalizeStatement(op.SQL)
	if err != nil {
		return tenant.Result{}, fmt.Errorf("raw query: %w: %w", apperrors.ErrInvalidArg, err)
	}
	p.logger.Debug("Executing raw query", zap.Int("args", len(op.Args)))

	rows, err := p.db.Query(ctx, stmt, op.Args...)
	if err != nil {
		return tenant.Result{}, fmt.Errorf("raw query: %w", err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return tenant.Result{}, fmt.Errorf("raw query: %w", err)
	}

	records := make([]tenant.Record, len(maps))
	for i, row := range maps {
		records[i] = tenant.Record(row)
	}
	return tenant.Result{Records: records, Count: rows.CommandTag().RowsAffected()}, nil
}

var _ Executor = (*PostgresExecutor)(nil)
