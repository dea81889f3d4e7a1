package daemon

import (
	"context"
	"time"

	apperrors "github.com/msageha/termcmd/internal/errors"
	"github.com/msageha/termcmd/internal/events"
	"github.com/msageha/termcmd/internal/model"
	"github.com/msageha/termcmd/internal/queue"
)

// deliver is the processor's response handler. It files the envelope in its
// sender's outbox.
func (d *Daemon) deliver(_ context.Context, env *model.Envelope) error {
	failed := 0
	var elapsed time.Duration
	for _, res := range env.Results {
		if res.Failed() {
			failed++
		}
		if res != nil {
			elapsed += res.Elapsed
		}
	}
	d.bus.Publish(events.EventEnvelopeProcessed, map[string]any{
		"batch_id":   env.BatchID,
		"sender_id":  env.SenderID,
		"requests":   env.Len(),
		"failed":     failed,
		"elapsed_ms": elapsed.Milliseconds(),
	})

	dropped := d.outbox.Put(env)
	if dropped {
		d.logger.Warnf("outbox full, oldest envelope dropped sender=%s size=%d", env.SenderID, d.outbox.size)
	}
	d.bus.Publish(events.EventEnvelopeDelivered, map[string]any{
		"batch_id":  env.BatchID,
		"sender_id": env.SenderID,
		"waiting":   d.outbox.Len(env.SenderID),
		"dropped":   dropped,
	})
	return nil
}

// handleError is the processor's error sink.
func (d *Daemon) handleError(err error, ec queue.ErrorContext) {
	d.logger.Errorf("%s error=%v", ec, err)

	data := map[string]any{
		"stage":      ec.Stage,
		"error_code": string(apperrors.GetCode(err)),
		"error":      err.Error(),
	}
	if ec.Envelope != nil {
		data["batch_id"] = ec.Envelope.BatchID
		data["sender_id"] = ec.Envelope.SenderID
	}
	if ec.Request != nil {
		data["request_id"] = ec.Request.ID
	}
	d.bus.Publish(events.EventRequestFailed, data)
}
