package otel

import (
	"net/http"

	"github.com/riandyrn/otelchi"
)

// Middleware wraps chi routing in per-request spans. NPID and request
// id land on the span later, from the auth and request-id middleware.
func Middleware(serviceName string, opts ...otelchi.Option) func(http.Handler) http.Handler {
	return otelchi.Middleware(serviceName, opts...)
}
