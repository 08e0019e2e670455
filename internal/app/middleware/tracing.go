package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/app/commands"
	"storefront/internal/app/queries"
)

const tracerName = "storefront/internal/app"

// Tracing opens a span per dispatched command. The global provider is a no-op until
// tracing is configured.
func Tracing() CommandMiddleware {
	tracer := otel.Tracer(tracerName)
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			ctx, span := tracer.Start(ctx, "command "+cmd.Key(),
				trace.WithAttributes(attribute.String("app.command", cmd.Key())))
			defer span.End()
			res, err := next.Dispatch(ctx, cmd)
			record(span, err)
			return res, err
		})
	}
}

func QueryTracing() QueryMiddleware {
	tracer := otel.Tracer(tracerName)
	return func(next queries.Bus) queries.Bus {
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			ctx, span := tracer.Start(ctx, "query "+q.Key(),
				trace.WithAttributes(attribute.String("app.query", q.Key())))
			defer span.End()
			res, err := next.Ask(ctx, q)
			record(span, err)
			return res, err
		})
	}
}

func record(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
