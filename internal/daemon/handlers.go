package daemon

import (
	"context"
	"errors"

	"github.com/msageha/termcmd/internal/model"
	"github.com/msageha/termcmd/internal/uds"
)

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.CmdPing, uds.Optional(d.handlePing))
	d.server.Handle(uds.CmdEnqueue, uds.Typed(d.handleEnqueue))
	d.server.Handle(uds.CmdProcess, uds.Typed(d.handleProcess))
	d.server.Handle(uds.CmdFeed, uds.Typed(d.handleFeed))
	d.server.Handle(uds.CmdSnapshot, uds.Optional(d.handleSnapshot))
	d.server.Handle(uds.CmdCollect, uds.Optional(d.handleCollect))
	d.server.Handle(uds.CmdReload, uds.Optional(d.handleReload))
	d.server.Handle(uds.CmdShutdown, uds.Optional(func(context.Context, struct{}) (any, error) {
		d.logger.Infof("shutdown requested via UDS")
		go d.Shutdown()
		return map[string]string{"status": "shutdown_accepted"}, nil
	}))
}

// senderOf returns id, or the sender the client stamped on the request when
// id is empty.
func senderOf(ctx context.Context, id string) string {
	if id != "" {
		return id
	}
	if c, ok := uds.CallerFrom(ctx); ok {
		return c.SenderID
	}
	return ""
}

func submitSender(ctx context.Context, p uds.SubmitParams) model.Sender {
	s := p.Sender()
	s.ID = senderOf(ctx, s.ID)
	return s
}

func (d *Daemon) handlePing(context.Context, struct{}) (any, error) {
	return uds.PingResult{
		Version:     d.version,
		State:       d.processor.State().String(),
		Pending:     d.processor.Pending(),
		Descriptors: d.store.Count(),
		Senders:     d.server.Senders(),
	}, nil
}

func (d *Daemon) handleEnqueue(ctx context.Context, p uds.SubmitParams) (any, error) {
	sender := submitSender(ctx, p)
	receipt, err := d.processor.Enqueue(p.Raw, sender)
	if err != nil {
		d.logger.Debugf("enqueue rejected sender=%s error=%v", sender.ID, err)
		return nil, err
	}
	return receipt, nil
}

func (d *Daemon) handleProcess(ctx context.Context, p uds.SubmitParams) (any, error) {
	return d.processor.ProcessDirect(ctx, p.Raw, submitSender(ctx, p))
}

func (d *Daemon) handleFeed(ctx context.Context, p uds.FeedParams) (any, error) {
	senderID := senderOf(ctx, p.SenderID)
	receipts, err := d.processor.Feed(senderID, p.Data, p.SenderEndpoint)
	if err != nil && len(receipts) == 0 {
		return nil, err
	}

	result := uds.FeedResult{
		Receipts: receipts,
		Buffered: d.assembler.Pending(senderID),
	}
	if err != nil {
		d.logger.Warnf("feed partially rejected sender=%s error=%v", senderID, err)
		result.Errors = errorMessages(err)
	}
	return result, nil
}

func (d *Daemon) handleSnapshot(context.Context, struct{}) (any, error) {
	return uds.SnapshotResult{Requests: d.processor.Unprocessed()}, nil
}

func (d *Daemon) handleCollect(ctx context.Context, p uds.CollectParams) (any, error) {
	envs, remaining := d.outbox.Take(senderOf(ctx, p.SenderID), p.Max)
	return uds.CollectResult{Envelopes: envs, Remaining: remaining}, nil
}

func (d *Daemon) handleReload(context.Context, struct{}) (any, error) {
	n, err := d.reloadDescriptors()
	if err != nil {
		return nil, err
	}
	return uds.ReloadResult{Descriptors: n}, nil
}

// errorMessages flattens a joined error into its parts.
func errorMessages(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, errorMessages(e)...)
		}
		return out
	}
	return []string{err.Error()}
}
