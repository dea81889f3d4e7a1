// Package daemon hosts the command processor behind the unix-socket
// transport.
package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/msageha/termcmd/internal/descriptor"
	"github.com/msageha/termcmd/internal/events"
	"github.com/msageha/termcmd/internal/lock"
	"github.com/msageha/termcmd/internal/logging"
	"github.com/msageha/termcmd/internal/model"
	"github.com/msageha/termcmd/internal/queue"
	"github.com/msageha/termcmd/internal/resolver"
	"github.com/msageha/termcmd/internal/router"
	"github.com/msageha/termcmd/internal/stream"
	"github.com/msageha/termcmd/internal/text"
	"github.com/msageha/termcmd/internal/tokenizer"
	"github.com/msageha/termcmd/internal/uds"
)

// Daemon is the termcmd daemon process.
type Daemon struct {
	workDir string
	config  model.Config
	version string
	logger  *logging.Logger
	logFile io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	ticker   *time.Ticker

	store     *descriptor.MemoryStore
	router    *router.CommandRouter
	assembler *stream.Assembler
	processor *queue.Processor
	outbox    *Outbox
	bus       *events.Bus
	audit     *events.AuditLogger
	detach    func()
	reloads   singleflight.Group

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
	stopped  chan struct{}
}

// New creates a daemon for the .termcmd directory at workDir. Logs go to
// <workDir>/logs/daemon.log.
func New(workDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(workDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	d, err := newDaemon(workDir, cfg, logFile, logFile)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	return d, nil
}

// newDaemon wires the pipeline without touching the filesystem beyond
// workDir paths.
func newDaemon(workDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	logger := logging.New(w, logging.ParseLevel(cfg.Logging.Level), "daemon")

	textHandler, err := text.NewHandler(cfg.Text)
	if err != nil {
		return nil, err
	}
	tk, err := tokenizer.New(cfg.Tokenizer)
	if err != nil {
		return nil, err
	}
	store := descriptor.NewMemoryStore(textHandler)
	cr := router.New(tk, resolver.New(store, cfg.Tokenizer, textHandler), nil, router.WithFallback(router.EchoRunner{}))

	assembler, err := stream.New(cfg.Stream, cfg.StreamDelimiter(), textHandler, logger.With("stream"))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		workDir:   workDir,
		config:    cfg,
		version:   "dev",
		logger:    logger,
		logFile:   closer,
		fileLock:  lock.NewFileLock(filepath.Join(workDir, "locks", "daemon.lock")),
		server:    uds.NewServer(filepath.Join(workDir, uds.DefaultSocketName), logger.With("uds")),
		store:     store,
		router:    cr,
		assembler: assembler,
		outbox:    NewOutbox(cfg.Daemon.OutboxSize),
		bus:       events.NewBus(0),
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
	d.bus.OnPanic = func(t events.EventType, r any) {
		d.logger.Errorf("event subscriber panicked type=%s panic=%v", t, r)
	}

	d.processor = queue.NewProcessor(cfg.Processor, cr,
		queue.WithLogger(logger.With("processor")),
		queue.WithTextHandler(textHandler),
		queue.WithAssembler(assembler),
		queue.WithErrorSink(queue.SinkFunc(d.handleError)),
	)
	if err := d.processor.RegisterResponseHandler(d.deliver); err != nil {
		return nil, err
	}
	d.registerHandlers()
	return d, nil
}

// SetVersion sets the version reported by ping. Must be called before Run.
func (d *Daemon) SetVersion(v string) {
	d.version = v
}

// Router returns the command router so callers can register runners.
func (d *Daemon) Router() *router.CommandRouter {
	return d.router
}

// Run starts the daemon and blocks until a signal or a shutdown request
// stops it.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}
	d.waitSignals()
	return nil
}

// Start brings the daemon up without waiting for signals.
func (d *Daemon) Start() error {
	if err := os.MkdirAll(filepath.Dir(d.fileLock.Path()), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.logger.Infof("daemon starting pid=%d dir=%s", os.Getpid(), d.workDir)

	audit, err := events.NewAuditLogger(filepath.Join(d.workDir, "logs", "audit"+events.LogFileExtension), 0)
	if err != nil {
		d.cleanup()
		return err
	}
	d.audit = audit
	d.detach = audit.Attach(d.bus, func(err error) {
		d.logger.Warnf("audit write failed error=%v", err)
	})

	if n, err := descriptor.LoadInto(d.store, d.commandsPath()); err != nil {
		d.logger.Warnf("descriptors not loaded path=%s error=%v", d.commandsPath(), err)
	} else {
		d.logger.Infof("descriptors loaded path=%s count=%d", d.commandsPath(), n)
	}

	if err := d.processor.Start(true); err != nil {
		d.cleanup()
		return err
	}
	if err := d.replaySpool(); err != nil {
		d.logger.Errorf("spool replay failed error=%v", err)
	}

	if err := d.server.Start(); err != nil {
		d.processor.Stop(d.shutdownTimeout())
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.logger.Infof("UDS server listening on %s", d.server.SocketPath())

	if d.config.Commands.Watch {
		if err := d.startWatcher(); err != nil {
			d.logger.Warnf("descriptor watch disabled error=%v", err)
		}
	}

	d.ticker = time.NewTicker(d.sweepInterval())
	d.wg.Add(1)
	go d.tickerLoop()

	d.logger.Infof("daemon ready")
	return nil
}

// Done is closed once Shutdown has finished.
func (d *Daemon) Done() <-chan struct{} {
	return d.stopped
}

func (d *Daemon) commandsPath() string {
	p := d.config.Commands.Path
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(d.workDir, p)
}

func (d *Daemon) shutdownTimeout() time.Duration {
	sec := d.config.Daemon.ShutdownTimeoutSec
	if sec <= 0 {
		sec = 30
	}
	return time.Duration(sec) * time.Second
}

func (d *Daemon) sweepInterval() time.Duration {
	sec := d.config.Daemon.SweepIntervalSec
	if sec <= 0 {
		sec = 30
	}
	return time.Duration(sec) * time.Second
}

// tickerLoop drops stream backlogs and sender activity that have been idle
// too long.
func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case now := <-d.ticker.C:
			d.sweep(now)
		}
	}
}

func (d *Daemon) sweep(now time.Time) {
	if n := d.assembler.Sweep(now); n > 0 {
		d.logger.Infof("idle stream backlogs dropped senders=%d", n)
	}
	if idle := d.config.Stream.IdleExpirySec; idle > 0 {
		cutoff := now.Add(-time.Duration(idle) * time.Second)
		if ids := d.server.ForgetIdle(cutoff); len(ids) > 0 {
			d.logger.Debugf("idle senders forgotten senders=%v", ids)
		}
	}
}

// waitSignals blocks until a shutdown signal arrives or Shutdown is called.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Infof("received signal=%s, initiating graceful shutdown", sig)
	case <-d.stopped:
		return
	}

	// Second signal forces exit.
	go func() {
		select {
		case <-sigCh:
			d.logger.Warnf("received second signal, forcing exit")
			os.Exit(1)
		case <-d.stopped:
		}
	}()

	d.Shutdown()
}

// Shutdown stops the daemon. It is safe to call more than once.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		defer close(d.stopped)
		d.logger.Infof("shutdown started")

		// Stop producers first.
		d.cancel()
		if d.ticker != nil {
			d.ticker.Stop()
		}
		if d.watcher != nil {
			d.watcher.Close()
		}
		d.server.Stop()

		timeout := d.shutdownTimeout()
		if d.processor.State() == queue.StateRunning {
			timedOut, err := d.processor.Stop(timeout)
			switch {
			case err != nil:
				d.logger.Errorf("processor stop error=%v", err)
			case timedOut:
				d.logger.Warnf("processor did not stop within %s, in-flight requests are spooled", timeout)
			}
			if err := d.writeSpool(d.processor.Unprocessed()); err != nil {
				d.logger.Errorf("spool write failed error=%v", err)
			}
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			d.logger.Warnf("shutdown timeout after %s, some operations may be incomplete", timeout)
		}

		d.cleanup()
		d.logger.Infof("daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	if d.detach != nil {
		d.detach()
	}
	d.bus.Close()
	if d.audit != nil {
		d.audit.Close()
	}
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}
