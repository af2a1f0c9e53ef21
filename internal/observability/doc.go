// Package observability builds the structured logger and the optional
// trace provider shared by the authentication gateway.
//
// Logs are written with zap. JSON output is the production format; text
// output uses the zap development encoder with colored levels.
//
// Tracing is off unless enabled in configuration. When enabled, spans are
// batched to a stdout exporter and the provider is installed globally so
// every otel.Tracer in the process picks it up.
package observability
