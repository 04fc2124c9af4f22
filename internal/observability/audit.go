package observability

import (
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

// Audit emits a structured security event tied to the current request.
// Token-validity specifics (expired vs revoked vs forged) belong here, in
// logs, never in the HTTP response body.
func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", chimiddleware.GetReqID(r.Context()),
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
		base = append(base, "trace_id", sc.TraceID().String())
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}
