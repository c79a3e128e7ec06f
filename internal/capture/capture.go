// Package capture defines the request/response capture side effect
// from HTTP ingress (C9): a fire-and-forget record handed to a Sink
// after a response is returned to the client. Capture failure never
// affects the client response: Sink.Put returns no error, and Send
// recovers from a panicking Sink.
package capture

import (
	"context"
	"log/slog"
	"time"
)

// Record is one captured HTTP exchange.
type Record struct {
	TunnelID       string
	Method         string
	Path           string
	Host           string
	RequestHeaders map[string][]string
	RequestBody    []byte
	Status         int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt      time.Time
	RespondedAt    time.Time
}

// LatencyMillis is the wall-clock time between CreatedAt and
// RespondedAt, in milliseconds.
func (r Record) LatencyMillis() int64 {
	return r.RespondedAt.Sub(r.CreatedAt).Milliseconds()
}

// Sink receives capture records. Implementations must not block the
// caller for long and must never panic; Put is called from the
// ingress request path as a best-effort side channel.
//
// SQL persistence of captures is a named but unimplemented
// collaborator: production deployments provide their own Sink.
type Sink interface {
	Put(ctx context.Context, rec Record)
}

// NoopSink discards every record. It is the default when no sink is
// configured.
type NoopSink struct{}

func (NoopSink) Put(context.Context, Record) {}

// LoggingSink logs a summary line per record, useful for local
// development without a real capture backend.
type LoggingSink struct {
	Logger *slog.Logger
}

func (s LoggingSink) Put(_ context.Context, rec Record) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("capture",
		"tunnel_id", rec.TunnelID,
		"method", rec.Method,
		"path", rec.Path,
		"host", rec.Host,
		"status", rec.Status,
		"latency_ms", rec.LatencyMillis(),
	)
}

// Send hands rec to sink without blocking the caller beyond the
// Put call itself; sink implementations are expected to return
// quickly or hand off internally.
func Send(ctx context.Context, sink Sink, rec Record) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Warn("capture: sink panicked", "panic", r)
		}
	}()
	sink.Put(ctx, rec)
}
