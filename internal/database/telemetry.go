package database

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/correlation-regime-go/internal/logging"
	"github.com/irfndi/correlation-regime-go/internal/telemetry"
)

// TracedPool wraps a DatabasePool with one span and one log entry per statement.
type TracedPool struct {
	pool   DatabasePool
	tracer trace.Tracer
	logger *logging.StandardLogger
}

func NewTracedPool(pool DatabasePool, logger *logging.StandardLogger) *TracedPool {
	return &TracedPool{pool: pool, tracer: telemetry.GetDatabaseTracer(), logger: logger}
}

func (p *TracedPool) start(ctx context.Context, op, sql string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", statementVerb(sql)),
		))
}

func (p *TracedPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := p.start(ctx, "query", sql)
	defer span.End()

	start := time.Now()
	rows, err := p.pool.Query(ctx, sql, args...)
	p.logStatement("query", sql, time.Since(start), -1, err)
	telemetry.RecordError(span, err)
	return rows, err
}

func (p *TracedPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := p.start(ctx, "query_row", sql)
	defer span.End()

	start := time.Now()
	row := p.pool.QueryRow(ctx, sql, args...)
	p.logStatement("query_row", sql, time.Since(start), -1, nil)
	return row
}

func (p *TracedPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := p.start(ctx, "exec", sql)
	defer span.End()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, sql, args...)
	span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	p.logStatement("exec", sql, time.Since(start), tag.RowsAffected(), err)
	telemetry.RecordError(span, err)
	return tag, err
}

func statementVerb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	return strings.ToUpper(fields[0])
}

// statementTable returns the first table named after FROM, INTO or UPDATE.
func statementTable(sql string) string {
	fields := strings.Fields(sql)
	for i, f := range fields[:max(len(fields)-1, 0)] {
		switch strings.ToUpper(f) {
		case "FROM", "INTO", "UPDATE":
			return strings.Trim(fields[i+1], "(),;")
		}
	}
	return ""
}

// logStatement reports failures through logrus and successful statements
// through the structured logger. rows is -1 when the driver does not report it.
func (p *TracedPool) logStatement(op, sql string, elapsed time.Duration, rows int64, err error) {
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"operation":   op,
			"statement":   statementVerb(sql),
			"table":       statementTable(sql),
			"duration_ms": elapsed.Milliseconds(),
		}).WithError(err).Warn("Database statement failed")
		return
	}
	if p.logger != nil {
		p.logger.LogDatabaseOperation(op, statementTable(sql), elapsed.Milliseconds(), rows)
	}
}
