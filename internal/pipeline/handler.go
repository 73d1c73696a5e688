package pipeline

import (
	"context"
	"time"

	"rabbittail/internal/decoder"
	apperrors "rabbittail/pkg/errors"
	"rabbittail/pkg/logging"
	"rabbittail/pkg/metrics"
	"rabbittail/pkg/models"
	"rabbittail/pkg/tracing"
)

// handle is registered with the transport and runs on its single delivery
// goroutine, so the consumed counter only ever moves here.
func (c *Controller) handle(ctx context.Context, env *models.Envelope) {
	start := time.Now()
	status := metrics.StatusEmitted

	defer func() {
		if r := recover(); r != nil {
			err := apperrors.RecoverPanic(r)
			c.logger.ErrorwCtx(messageContext(ctx, env), "Recovered from panic while handling message",
				"error", err,
			)
			status = metrics.StatusPanic
		}
		metrics.ObserveProcessed(status, time.Since(start))
	}()

	if c.isStopped() {
		status = metrics.StatusIgnored
		return
	}

	metrics.IncMessagesReceived(env.Exchange, len(env.Payload))

	msgCtx, span := tracing.StartSpanFromHeaders(messageContext(ctx, env), "amqp.consume", env.Headers)
	defer span.End()

	msg, err := decoder.Decode(env)
	if err != nil {
		status = metrics.StatusDecode
		c.logger.ErrorwCtx(msgCtx, "Failed to decode message", "error", err)
		return
	}

	res, err := c.filter.Apply(msgCtx, msg)
	if err != nil {
		status = metrics.StatusFilter
		c.logger.ErrorwCtx(msgCtx, "Failed to filter message", "error", err)
		return
	}
	if !res.Emit {
		status = metrics.StatusFiltered
		c.logger.DebugwCtx(msgCtx, "Message filtered out")
		return
	}

	if err := c.throttle.Wait(ctx); err != nil {
		status = metrics.StatusIgnored
		return
	}

	if err := c.sink.Message(res.Text); err != nil {
		status = metrics.StatusIgnored
		c.logger.ErrorwCtx(msgCtx, "Failed to write message", "error", err)
		return
	}

	n := c.consumed.Add(1)
	if c.autoStop > 0 && n >= int64(c.autoStop) {
		c.logger.Debugw("Auto-stop limit reached", "consumed", n)
		c.Stop()
	}
}

func messageContext(ctx context.Context, env *models.Envelope) context.Context {
	ctx = logging.WithExchange(ctx, env.Exchange)
	ctx = logging.WithRoutingKey(ctx, env.RoutingKey)
	if env.MessageID != "" {
		ctx = logging.WithMessageID(ctx, env.MessageID)
	}
	if traceID, ok := tracing.RemoteTraceID(ctx, env.Headers); ok {
		ctx = logging.WithTraceID(ctx, traceID)
	}
	return ctx
}
