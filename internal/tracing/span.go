package tracing

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/behouba/criu-coordinator/internal/metrics"
	"github.com/behouba/criu-coordinator/internal/session"
)

// Span attribute keys.
const (
	AttrSessionID  = attribute.Key("flakerun.session.id")
	AttrIterations = attribute.Key("flakerun.iterations")
	AttrCommand    = attribute.Key("flakerun.command")
	AttrRunIndex   = attribute.Key("flakerun.run.index")
	AttrRunStatus  = attribute.Key("flakerun.run.status")
	AttrExitCode   = attribute.Key("process.exit.code")
	AttrDurationMs = attribute.Key("flakerun.run.duration_ms")
	AttrPasses     = attribute.Key("flakerun.passes")
	AttrFailures   = attribute.Key("flakerun.failures")
	AttrVerdict    = attribute.Key("flakerun.verdict")
)

// StartSessionSpan opens the root span covering the whole loop.
func StartSessionSpan(ctx context.Context, tracer trace.Tracer, sess session.Session) (context.Context, trace.Span) {
	return tracer.Start(ctx, "flakerun session",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrSessionID.String(sess.ID),
			AttrIterations.Int(sess.Iterations),
			AttrCommand.String(sess.CommandLine()),
		),
	)
}

// StartRunSpan opens a child span for one execution of the command.
func StartRunSpan(ctx context.Context, tracer trace.Tracer, index int, argv []string) (context.Context, trace.Span) {
	name := "run"
	if len(argv) > 0 {
		name = "run " + argv[0]
	}
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrRunIndex.Int(index)),
	)
}

// EndRunSpan records the run outcome. A failing command marks the span as an
// error without recording an exception; err is reserved for harness failures.
func EndRunSpan(span trace.Span, res session.RunResult, err error) {
	span.SetAttributes(
		AttrExitCode.Int(res.ExitCode),
		AttrDurationMs.Int64(res.DurationMs()),
	)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !res.Passed():
		span.SetAttributes(AttrRunStatus.String(string(session.StatusFail)))
		span.SetStatus(codes.Error, "command failed")
	default:
		span.SetAttributes(AttrRunStatus.String(string(session.StatusPass)))
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// SummaryAttributes describes a session outcome for the session span.
func SummaryAttributes(s metrics.Summary) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPasses.Int(s.Passes),
		AttrFailures.Int(s.Failures),
		AttrVerdict.String(string(s.Verdict)),
	}
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// envCarrier adapts KEY=value pairs to propagation.TextMapCarrier. Keys are
// the upper-cased header names (traceparent becomes TRACEPARENT).
type envCarrier map[string]string

func (c envCarrier) Get(key string) string {
	return c[strings.ToUpper(key)]
}

func (c envCarrier) Set(key, value string) {
	c[strings.ToUpper(key)] = value
}

func (c envCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectEnv returns the trace context of ctx as environment entries
// (TRACEPARENT, TRACESTATE, BAGGAGE) for a child process.
func InjectEnv(ctx context.Context) []string {
	carrier := envCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	env := make([]string, 0, len(carrier))
	for k, v := range carrier {
		env = append(env, k+"="+v)
	}
	return env
}

// ExtractEnv continues a trace handed to flakerun through TRACEPARENT, as CI
// systems that trace their jobs do.
func ExtractEnv(ctx context.Context) context.Context {
	carrier := envCarrier{}
	for _, key := range []string{"TRACEPARENT", "TRACESTATE", "BAGGAGE"} {
		if v, ok := os.LookupEnv(key); ok {
			carrier[key] = v
		}
	}
	if len(carrier) == 0 {
		return ctx
	}
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	).Extract(ctx, carrier)
}
