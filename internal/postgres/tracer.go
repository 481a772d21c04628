package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// QueryObserver receives one observation per finished query.
type QueryObserver interface {
	ObserveQuery(ctx context.Context, operation, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, operation, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, operation, route, outcome string, dur time.Duration) {
	f(ctx, operation, route, outcome, dur)
}

type observerBox struct{ QueryObserver }

var observer atomic.Pointer[observerBox]

// SetQueryObserver installs the process-wide observer. nil removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		observer.Store(nil)
		return
	}
	observer.Store(&observerBox{QueryObserver: o})
}

func currentObserver() QueryObserver {
	if b := observer.Load(); b != nil {
		return b.QueryObserver
	}
	return nil
}

type queryKey struct{}

// queryInfo travels from TraceQueryStart to TraceQueryEnd on the context.
type queryInfo struct {
	sql    string
	args   []any
	start  time.Time
	caller string
}

// loggingTracer decorates another pgx.QueryTracer (otelpgx in production)
// with a structured log line and an observer callback per query.
type loggingTracer struct {
	inner pgx.QueryTracer
	now   func() time.Time
}

func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return loggingTracer{inner: inner, now: time.Now}
}

func (t loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qi := &queryInfo{
		sql:    data.SQL,
		args:   data.Args,
		start:  t.now(),
		caller: storeCaller(),
	}

	// inner first so its span is the one we annotate
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); qi.caller != "" && span.IsRecording() {
		span.SetAttributes(attribute.String("db.caller", qi.caller))
	}

	return context.WithValue(ctx, queryKey{}, qi)
}

func (t loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qi, ok := ctx.Value(queryKey{}).(*queryInfo)
	if !ok {
		return
	}
	dur := t.now().Sub(qi.start)
	op := operationName(data.CommandTag.String(), qi.sql)

	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	if obs := currentObserver(); obs != nil {
		obs.ObserveQuery(ctx, op, routeFromContext(ctx), outcome, dur)
	}

	fields := []any{
		"db.operation.name", op,
		"db.statement", qi.sql,
		"db.args_count", len(qi.args),
		"db.duration", dur.Seconds(),
	}
	if rows := data.CommandTag.RowsAffected(); data.Err == nil && rows >= 0 {
		fields = append(fields, "db.rows", rows)
	}
	if qi.caller != "" {
		fields = append(fields, "db.caller", qi.caller)
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

// operationName prefers the command tag (e.g. "UPDATE 1") and falls back to
// the first keyword of the statement.
func operationName(tag, sql string) string {
	for _, s := range []string{tag, sql} {
		if f := strings.Fields(s); len(f) > 0 {
			return strings.ToUpper(f[0])
		}
	}
	return "UNKNOWN"
}

func routeFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "none"
}

// storeCaller returns the first frame outside pgx, otelpgx and this package,
// normally a pgstore method.
func storeCaller() string {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		if !skipFrame(fr.Function) {
			return shortFuncName(fr.Function)
		}
		if !more {
			return ""
		}
	}
}

func skipFrame(fn string) bool {
	return fn == "" ||
		strings.HasPrefix(fn, "runtime.") ||
		strings.Contains(fn, "github.com/jackc/pgx/v5") ||
		strings.Contains(fn, "github.com/exaring/otelpgx") ||
		strings.Contains(fn, "github.com/linnemanlabs/warden/internal/postgres.")
}

// shortFuncName drops the import path and package name, keeping
// receiver and method.
func shortFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	if i := strings.Index(fn, "."); i >= 0 {
		fn = fn[i+1:]
	}
	return fn
}
