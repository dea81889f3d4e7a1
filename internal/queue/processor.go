package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/msageha/termcmd/internal/errors"
	"github.com/msageha/termcmd/internal/logging"
	"github.com/msageha/termcmd/internal/model"
	"github.com/msageha/termcmd/internal/stream"
	"github.com/msageha/termcmd/internal/text"
)

// State is the processor lifecycle state.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Router executes a single request. Implementations should honor ctx, which
// carries the per-request timeout.
type Router interface {
	Route(ctx context.Context, req model.Request) (any, error)
}

// RouterFunc adapts a function to Router.
type RouterFunc func(ctx context.Context, req model.Request) (any, error)

func (f RouterFunc) Route(ctx context.Context, req model.Request) (any, error) { return f(ctx, req) }

// ResponseHandler receives completed envelopes from the response loop.
type ResponseHandler func(ctx context.Context, env *model.Envelope) error

// Option configures a Processor.
type Option func(*Processor)

func WithErrorSink(sink ErrorSink) Option {
	return func(p *Processor) { p.sink = sink }
}

func WithLogger(l *logging.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

func WithTextHandler(h *text.Handler) Option {
	return func(p *Processor) { p.text = h }
}

// WithAssembler enables Feed.
func WithAssembler(a *stream.Assembler) Option {
	return func(p *Processor) { p.assembler = a }
}

// Processor owns the request queue. In background mode one dispatch loop
// drains the queue in FIFO order, routing each envelope's requests in order;
// a slow request delays every envelope behind it. When responses are enabled
// a second loop hands completed envelopes to the response handler.
type Processor struct {
	cfg       model.ProcessorConfig
	router    Router
	splitter  *Splitter
	text      *text.Handler
	assembler *stream.Assembler
	sink      ErrorSink
	logger    *logging.Logger

	mu         sync.Mutex
	state      State
	background bool
	stopping   bool
	responding bool
	handler    ResponseHandler
	cancel     context.CancelFunc
	done       chan struct{}

	qmu       sync.Mutex
	queue     []*model.Envelope
	processed []*model.Envelope

	wake        chan struct{}
	respondWake chan struct{}
}

// NewProcessor creates a processor in the NotStarted state.
func NewProcessor(cfg model.ProcessorConfig, router Router, opts ...Option) *Processor {
	p := &Processor{
		cfg:         cfg,
		router:      router,
		wake:        make(chan struct{}, 1),
		respondWake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sink == nil {
		p.sink = LogSink{Logger: p.logger}
	}
	p.splitter = NewSplitter(cfg, p.text)
	return p
}

func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// RegisterResponseHandler sets the handler used by the response loop. It takes
// effect on the next Start.
func (p *Processor) RegisterResponseHandler(h ResponseHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateRunning {
		return apperrors.New(apperrors.CodeInvalidRequest, "the response handler must be registered before start")
	}
	p.handler = h
	return nil
}

// Start moves the processor to Running. Without background only
// ProcessDirect is served; with background the dispatch loop (and the
// response loop when enabled and a handler is registered) is started.
// A stopped processor may be started again.
func (p *Processor) Start(background bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateRunning {
		return apperrors.New(apperrors.CodeInvalidRequest, "the processor is already running")
	}

	p.state = StateRunning
	p.background = background
	p.stopping = false
	p.responding = false
	if !background {
		p.logger.Infof("processor started mode=direct")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.responding = p.cfg.ResponseEnabled && p.handler != nil

	g.Go(func() error { return p.dispatchLoop(gctx) })
	if p.responding {
		handler := p.handler
		g.Go(func() error { return p.responseLoop(gctx, handler) })
	}

	done := p.done
	go func() {
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Errorf("processor loops exited error=%v", err)
		}
		close(done)
	}()

	// Envelopes left from a previous run are picked up again.
	p.signal(p.wake)
	p.logger.Infof("processor started mode=background responses=%t order=%s", p.responding, p.responseOrder())
	return nil
}

// Stop cancels the loops and waits up to timeout for them to exit. It reports
// whether the wait timed out; after a timeout the processor stays Running but
// rejects new work, and Stop may be called again.
func (p *Processor) Stop(timeout time.Duration) (bool, error) {
	p.mu.Lock()
	switch p.state {
	case StateNotStarted:
		p.mu.Unlock()
		return false, apperrors.New(apperrors.CodeInvalidRequest, "the processor has not been started")
	case StateStopped:
		p.mu.Unlock()
		return false, nil
	}
	if !p.background {
		p.state = StateStopped
		p.mu.Unlock()
		p.logger.Infof("processor stopped mode=direct")
		return false, nil
	}
	p.stopping = true
	p.cancel()
	done := p.done
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.logger.Warnf("processor stop timed out timeout=%s", timeout)
		return true, nil
	}

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
	p.logger.Infof("processor stopped unprocessed=%d", len(p.Unprocessed()))
	return false, nil
}

// Enqueue splits raw and appends the envelope to the queue. The processor
// must be running in background mode.
func (p *Processor) Enqueue(raw string, sender model.Sender) (model.Receipt, error) {
	if err := p.acceptingQueue(); err != nil {
		return model.Receipt{}, err
	}
	env, err := p.splitter.Split(raw, sender)
	if err != nil {
		return model.Receipt{}, err
	}

	p.qmu.Lock()
	p.queue = append(p.queue, env)
	p.qmu.Unlock()
	p.signal(p.wake)

	p.logger.Debugf("envelope queued %s sender=%s", env, sender.ID)
	return env.Receipt(), nil
}

// Requeue appends previously accepted requests to the queue, keeping their
// ids. Consecutive requests sharing a batch id form one envelope. It returns
// the number of envelopes queued.
func (p *Processor) Requeue(requests []model.Request) (int, error) {
	if err := p.acceptingQueue(); err != nil {
		return 0, err
	}

	var envs []*model.Envelope
	for start := 0; start < len(requests); {
		end := start + 1
		if batchID := requests[start].BatchID; batchID != "" {
			for end < len(requests) && requests[end].BatchID == batchID {
				end++
			}
		}
		group := requests[start:end]
		sender := model.Sender{ID: group[0].SenderID, Endpoint: group[0].SenderEndpoint}
		env, err := model.NewEnvelope(group[0].BatchID, sender, slices.Clone(group)...)
		if err != nil {
			return 0, err
		}
		envs = append(envs, env)
		start = end
	}
	if len(envs) == 0 {
		return 0, nil
	}

	p.qmu.Lock()
	p.queue = append(p.queue, envs...)
	p.qmu.Unlock()
	p.signal(p.wake)

	p.logger.Infof("requests requeued requests=%d envelopes=%d", len(requests), len(envs))
	return len(envs), nil
}

func (p *Processor) acceptingQueue() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning || !p.background || p.stopping {
		return apperrors.New(apperrors.CodeInvalidRequest,
			"the processor is not running in background mode. state=%s", p.state)
	}
	return nil
}

// Feed passes a chunk of a sender's byte stream to the frame assembler and
// enqueues every batch it completes, in order. The stream delimiter is
// stripped from each frame unless it doubles as the batch delimiter. Errors
// for individual frames are joined; frames that were accepted still have
// receipts.
func (p *Processor) Feed(senderID string, data []byte, endpoint string) ([]model.Receipt, error) {
	if p.assembler == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfiguration, "streaming is not configured")
	}
	if err := p.acceptingQueue(); err != nil {
		return nil, err
	}

	frames, ferr := p.assembler.Feed(senderID, data)
	errs := []error{ferr}
	var receipts []model.Receipt
	sender := model.Sender{ID: senderID, Endpoint: endpoint}
	delim := p.assembler.Delimiter()
	keepDelim := p.cfg.BatchEnabled && delim == p.cfg.BatchDelimiter
	for _, frame := range frames {
		if !keepDelim {
			frame = strings.TrimSuffix(frame, delim)
		}
		r, err := p.Enqueue(frame, sender)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		receipts = append(receipts, r)
	}
	return receipts, errors.Join(errs...)
}

// ProcessDirect splits raw and routes it on the caller's goroutine. Route
// failures are recorded in the result slots; the returned error covers
// validation and lifecycle failures only.
func (p *Processor) ProcessDirect(ctx context.Context, raw string, sender model.Sender) (*model.Envelope, error) {
	if p.State() != StateRunning {
		return nil, apperrors.New(apperrors.CodeServerError, "the processor is not running")
	}
	env, err := p.splitter.Split(raw, sender)
	if err != nil {
		return nil, err
	}
	for i := range env.Requests {
		res := p.route(ctx, env.Requests[i])
		if res == nil {
			return env, apperrors.Wrap(apperrors.CodeServerError, ctx.Err(), "the request was cancelled. request=%s", env.Requests[i].ID)
		}
		env.Results[i] = res
	}
	return env, nil
}

// NewUniqueID returns a fresh id with the given hint.
func (p *Processor) NewUniqueID(hint string) (string, error) {
	id, err := model.GenerateID(hint)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInvalidRequest, err, "generate id. hint=%s", hint)
	}
	return id, nil
}

// Unprocessed returns the queued requests that have not been routed yet.
func (p *Processor) Unprocessed() []model.Request {
	p.qmu.Lock()
	defer p.qmu.Unlock()

	var out []model.Request
	for _, env := range p.queue {
		for i, req := range env.Requests {
			if env.Results[i] == nil {
				out = append(out, req)
			}
		}
	}
	return out
}

// Pending returns the number of queued envelopes.
func (p *Processor) Pending() int {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	return len(p.queue)
}

func (p *Processor) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *Processor) dispatchLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		env := p.peek()
		if env == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.wake:
			}
			continue
		}

		if !p.routeEnvelope(ctx, env) {
			// Cancelled mid-envelope; it stays at the head of the queue.
			return ctx.Err()
		}
		p.complete(env)
	}
}

func (p *Processor) peek() *model.Envelope {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	return p.queue[0]
}

func (p *Processor) complete(env *model.Envelope) {
	p.qmu.Lock()
	p.queue[0] = nil
	p.queue = p.queue[1:]
	if p.responding {
		p.processed = append(p.processed, env)
	}
	p.qmu.Unlock()

	if p.responding {
		p.signal(p.respondWake)
	}
}

// routeEnvelope routes the unrouted requests of env in order. It returns false
// if ctx was cancelled before every request had a result.
func (p *Processor) routeEnvelope(ctx context.Context, env *model.Envelope) bool {
	start := time.Now()
	failed := 0
	for i := range env.Requests {
		if env.Results[i] != nil {
			continue
		}
		res := p.route(ctx, env.Requests[i])
		if res == nil {
			return false
		}
		p.qmu.Lock()
		env.Results[i] = res
		p.qmu.Unlock()
		if res.Err != nil {
			failed++
			p.sink.Handle(res.Err, ErrorContext{Stage: StageRoute, Envelope: env, Request: &env.Requests[i]})
		}
	}
	p.logger.Debugf("envelope routed %s failed=%d elapsed=%s", env, failed, time.Since(start))
	return true
}

type outcome struct {
	value any
	err   error
}

// route runs one request against the router bounded by the route timeout.
// It returns nil only when ctx itself was cancelled.
func (p *Processor) route(ctx context.Context, req model.Request) *model.Result {
	timeout := p.cfg.RouteTimeout()
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: apperrors.New(apperrors.CodeServerError, "the router panicked. request=%s panic=%v", req.ID, r)}
			}
		}()
		v, err := p.router.Route(rctx, req)
		ch <- outcome{value: v, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil && ctx.Err() != nil {
			return nil
		}
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && !apperrors.IsCode(o.err, apperrors.CodeServerError) {
			o.err = timeoutError(req, timeout)
		}
		return model.NewResult(req.ID, o.value, o.err, time.Since(start))
	case <-rctx.Done():
		if ctx.Err() != nil {
			return nil
		}
		return model.NewResult(req.ID, nil, timeoutError(req, timeout), time.Since(start))
	}
}

func timeoutError(req model.Request, timeout time.Duration) error {
	return apperrors.New(apperrors.CodeRequestTimeout, "the request timed out. request=%s timeout=%s", req.ID, timeout)
}

func (p *Processor) responseOrder() string {
	if p.cfg.ResponseOrder == model.ResponseOrderFIFO {
		return model.ResponseOrderFIFO
	}
	return model.ResponseOrderLIFO
}

func (p *Processor) popProcessed() *model.Envelope {
	p.qmu.Lock()
	defer p.qmu.Unlock()

	n := len(p.processed)
	if n == 0 {
		return nil
	}
	var env *model.Envelope
	if p.responseOrder() == model.ResponseOrderFIFO {
		env = p.processed[0]
		p.processed[0] = nil
		p.processed = p.processed[1:]
	} else {
		env = p.processed[n-1]
		p.processed[n-1] = nil
		p.processed = p.processed[:n-1]
	}
	return env
}

func (p *Processor) responseLoop(ctx context.Context, handler ResponseHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		env := p.popProcessed()
		if env == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.respondWake:
			}
			continue
		}
		p.respond(ctx, handler, env)
	}
}

func (p *Processor) respond(ctx context.Context, handler ResponseHandler, env *model.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			p.sink.Handle(apperrors.New(apperrors.CodeServerError, "the response handler panicked. panic=%v", r),
				ErrorContext{Stage: StageRespond, Envelope: env})
		}
	}()
	if err := handler(ctx, env); err != nil {
		p.sink.Handle(err, ErrorContext{Stage: StageRespond, Envelope: env})
	}
}
