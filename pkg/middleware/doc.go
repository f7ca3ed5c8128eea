// Package middleware provides net/http middleware for the wsession admin
// and WebSocket endpoints.
//
// This package includes:
//   - OpenTelemetry request tracing
//   - Prometheus request metrics
//
// Both label requests by their chi route pattern ("/sessions/{id}") rather
// than the raw path, so session ids never become label values.
//
// # OpenTelemetry Tracing
//
//	r := chi.NewRouter()
//	r.Use(middleware.Tracing(
//	    middleware.WithTracerName("wsession-admin"),
//	    middleware.WithFilter(func(r *http.Request) bool {
//	        return r.URL.Path != "/healthz"
//	    }),
//	))
//
// The tracer comes from the global provider unless WithTracerProvider is
// given. Incoming W3C trace context is extracted with the global
// propagator.
//
// # Prometheus Metrics
//
//	m := middleware.NewHTTPMetrics(middleware.WithRegistry(reg))
//	r.Use(m.Handler)
//
// Metrics collected:
//   - wsession_http_requests_total{route,method,code}
//   - wsession_http_request_duration_seconds{route,method}
//   - wsession_http_requests_in_flight
//
// Both wrappers keep http.Hijacker working so they can sit in front of the
// WebSocket upgrade. A traced upgrade keeps its span open for the life of
// the socket; filter the WebSocket path out of Tracing to avoid that.
package middleware
