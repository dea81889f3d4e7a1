package uds

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/msageha/termcmd/internal/logging"
)

// HandlerFunc serves one command. ctx is cancelled when the server stops and
// carries the request's Caller.
type HandlerFunc func(ctx context.Context, req *Request) *Response

// Caller describes the client behind a request.
type Caller struct {
	SenderID string
	Command  string
	Received time.Time
}

type callerKey struct{}

// CallerFrom returns the Caller the server attached to ctx.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Typed adapts fn to a HandlerFunc. The request params are required and
// decoded into P; fn's result is the response data and its error keeps its
// internal/errors code on the wire.
func Typed[P any](fn func(ctx context.Context, params P) (any, error)) HandlerFunc {
	return typed(fn, true)
}

// Optional is Typed for commands whose params may be omitted, in which case
// fn receives the zero P.
func Optional[P any](fn func(ctx context.Context, params P) (any, error)) HandlerFunc {
	return typed(fn, false)
}

func typed[P any](fn func(context.Context, P) (any, error), required bool) HandlerFunc {
	return func(ctx context.Context, req *Request) *Response {
		var params P
		if required || len(req.Params) > 0 {
			if err := req.DecodeParams(&params); err != nil {
				return ErrorFromErr(err)
			}
		}
		data, err := fn(ctx, params)
		if err != nil {
			return ErrorFromErr(err)
		}
		return SuccessResponse(data)
	}
}

// Server accepts one request per connection and dispatches it by command.
type Server struct {
	socketPath  string
	listener    net.Listener
	connTimeout time.Duration
	logger      *logging.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	smu     sync.Mutex
	senders map[string]*SenderInfo

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

func NewServer(socketPath string, logger *logging.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:  socketPath,
		handlers:    make(map[string]HandlerFunc),
		senders:     make(map[string]*SenderInfo),
		connTimeout: 30 * time.Second,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		now:         time.Now,
	}
}

func (s *Server) SetConnTimeout(d time.Duration) {
	s.connTimeout = d
}

func (s *Server) Handle(command string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = handler
}

func (s *Server) SocketPath() string { return s.socketPath }

// Senders returns the activity of every sender seen since start, ordered by
// id.
func (s *Server) Senders() []SenderInfo {
	s.smu.Lock()
	defer s.smu.Unlock()

	out := make([]SenderInfo, 0, len(s.senders))
	for _, info := range s.senders {
		out = append(out, *info)
	}
	slices.SortFunc(out, func(a, b SenderInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// ForgetIdle drops senders not seen since cutoff and returns their ids.
func (s *Server) ForgetIdle(cutoff time.Time) []string {
	s.smu.Lock()
	defer s.smu.Unlock()

	var dropped []string
	for id, info := range s.senders {
		if info.LastSeen.Before(cutoff) {
			delete(s.senders, id)
			dropped = append(dropped, id)
		}
	}
	slices.Sort(dropped)
	return dropped
}

func (s *Server) Start() error {
	// A socket left by a crashed daemon makes Listen fail.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener, cancels in-flight handlers and waits for open
// connections to finish.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warnf("accept error=%v", err)
			continue
		}

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(s.connTimeout))

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		s.logger.Warnf("read request error=%v", err)
		return
	}

	resp := s.dispatch(&req)
	if err := WriteFrame(conn, resp); err != nil {
		s.logger.Warnf("write response command=%s sender=%s error=%v", req.Command, req.SenderID, err)
	}
}

// dispatch runs the handler for req. A panicking handler yields an internal
// error response.
func (s *Server) dispatch(req *Request) (resp *Response) {
	if req.ProtocolVersion != ProtocolVersion {
		return ErrorResponse(
			ErrCodeProtocolMismatch,
			fmt.Sprintf("protocol version mismatch: got %d, expected %d", req.ProtocolVersion, ProtocolVersion),
		)
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Command]
	s.mu.RUnlock()
	if !ok {
		return ErrorResponse(ErrCodeUnknownCommand, fmt.Sprintf("unknown command: %q", req.Command))
	}

	caller := Caller{SenderID: req.SenderID, Command: req.Command, Received: s.now()}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("panic in handler command=%s sender=%s: %v\n%s", req.Command, req.SenderID, r, debug.Stack())
			resp = ErrorResponse(ErrCodeInternal, fmt.Sprintf("internal error: %v", r))
		}
		if resp == nil {
			resp = ErrorResponse(ErrCodeInternal, "the handler returned no response")
		}
		s.record(caller, resp.Success)
		s.logger.Debugf("request command=%s sender=%s success=%t elapsed=%s",
			req.Command, req.SenderID, resp.Success, time.Since(caller.Received))
	}()

	return handler(context.WithValue(s.ctx, callerKey{}, caller), req)
}

func (s *Server) record(c Caller, success bool) {
	if c.SenderID == "" {
		return
	}
	s.smu.Lock()
	defer s.smu.Unlock()

	info, ok := s.senders[c.SenderID]
	if !ok {
		info = &SenderInfo{ID: c.SenderID}
		s.senders[c.SenderID] = info
	}
	info.Requests++
	if !success {
		info.Failures++
	}
	info.LastCommand = c.Command
	info.LastSeen = c.Received
}
