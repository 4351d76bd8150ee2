// Package feedback validates end-of-call feedback and forwards it to the
// feedback service, queueing what could not be delivered.
package feedback

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
	"github.com/tjfontaine/televisit/internal/metrics"
)

const tracerName = "televisit/feedback"

// Collector submits feedback. Delivery is best-effort: a failing sink is
// reported in the acknowledgement, never as an error.
type Collector struct {
	sink    ports.FeedbackSink
	outbox  ports.FeedbackOutbox
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithOutbox keeps failed submissions for Redeliver.
func WithOutbox(outbox ports.FeedbackOutbox) Option {
	return func(c *Collector) { c.outbox = outbox }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) { c.logger = logger }
}

// WithMetrics records feedback outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithTracerProvider traces submissions with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Collector) { c.tracer = tp.Tracer(tracerName) }
}

// WithClock overrides the submission timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a collector that delivers to sink.
func NewCollector(sink ports.FeedbackSink, opts ...Option) *Collector {
	c := &Collector{
		sink:   sink,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit validates rec and forwards it. The only error returned is a
// validation error; an empty record is acknowledged as skipped without
// contacting the sink.
func (c *Collector) Submit(ctx context.Context, appointmentID, sessionID string, rec domain.FeedbackRecord) (ack domain.FeedbackAck, err error) {
	ctx, span := c.tracer.Start(ctx, "feedback.Submit", trace.WithAttributes(
		attribute.String("appointment_id", appointmentID),
		attribute.String("session_id", sessionID)))
	defer func() {
		switch {
		case err != nil:
			span.SetStatus(codes.Error, err.Error())
		case ack.Retryable:
			span.SetStatus(codes.Error, ack.Error)
		}
		span.SetAttributes(
			attribute.Bool("delivered", ack.Delivered),
			attribute.Bool("queued", ack.Queued))
		span.End()
	}()

	if err := rec.Validate(); err != nil {
		return domain.FeedbackAck{}, err
	}
	if rec.Empty() {
		return c.Skip(appointmentID, sessionID), nil
	}

	sub := &domain.FeedbackSubmission{
		AppointmentID: appointmentID,
		SessionID:     sessionID,
		Rating:        rec.Rating,
		Comment:       rec.Comment,
		Notes:         rec.Notes,
		SubmittedAt:   c.now(),
	}

	if c.sink == nil {
		return c.queue(ctx, sub, "no feedback service configured"), nil
	}
	if err := c.sink.SubmitFeedback(ctx, sub); err != nil {
		c.logger.Warn("feedback submission failed",
			slog.String("appointment_id", appointmentID),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return c.queue(ctx, sub, err.Error()), nil
	}

	c.metrics.Feedback("delivered")
	c.logger.Info("feedback delivered",
		slog.String("appointment_id", appointmentID),
		slog.String("session_id", sessionID))
	return domain.FeedbackAck{Delivered: true}, nil
}

// Skip acknowledges an explicit skip.
func (c *Collector) Skip(appointmentID, sessionID string) domain.FeedbackAck {
	c.metrics.Feedback("skipped")
	c.logger.Info("feedback skipped",
		slog.String("appointment_id", appointmentID),
		slog.String("session_id", sessionID))
	return domain.FeedbackAck{Skipped: true}
}

func (c *Collector) queue(ctx context.Context, sub *domain.FeedbackSubmission, reason string) domain.FeedbackAck {
	ack := domain.FeedbackAck{
		Retryable: true,
		Error:     domain.ErrFeedbackSubmission(reason).Error(),
	}
	if c.outbox == nil {
		c.metrics.Feedback("failed")
		return ack
	}
	if err := c.outbox.EnqueueFeedback(context.WithoutCancel(ctx), sub, reason); err != nil {
		c.logger.Error("failed to queue feedback for redelivery",
			slog.String("appointment_id", sub.AppointmentID),
			slog.String("error", err.Error()))
		c.metrics.Feedback("failed")
		return ack
	}
	c.metrics.Feedback("queued")
	ack.Queued = true
	return ack
}

// Redeliver retries up to limit queued submissions, oldest first, and
// returns how many were delivered.
func (c *Collector) Redeliver(ctx context.Context, limit int) (int, error) {
	if c.outbox == nil || c.sink == nil {
		return 0, nil
	}
	entries, err := c.outbox.PendingFeedback(ctx, limit)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := c.sink.SubmitFeedback(ctx, entry.Submission); err != nil {
			if rerr := c.outbox.RecordFeedbackAttempt(ctx, entry.ID, err.Error()); rerr != nil {
				return delivered, rerr
			}
			c.logger.Debug("feedback redelivery failed",
				slog.Int64("outbox_id", entry.ID),
				slog.Int("attempts", entry.Attempts+1),
				slog.String("error", err.Error()))
			continue
		}
		if err := c.outbox.MarkFeedbackDelivered(ctx, entry.ID); err != nil {
			return delivered, err
		}
		delivered++
		c.metrics.Feedback("redelivered")
	}

	if delivered > 0 {
		c.logger.Info("redelivered queued feedback", slog.Int("count", delivered))
	}
	return delivered, nil
}
