package queue

import (
	"fmt"

	"github.com/msageha/termcmd/internal/logging"
	"github.com/msageha/termcmd/internal/model"
)

// Stages reported to an ErrorSink.
const (
	StageRoute   = "route"
	StageRespond = "respond"
)

// ErrorContext describes where a background error happened.
type ErrorContext struct {
	Stage    string
	Envelope *model.Envelope
	Request  *model.Request
}

func (c ErrorContext) String() string {
	s := "stage=" + c.Stage
	if c.Envelope != nil {
		s += " " + c.Envelope.String()
	}
	if c.Request != nil {
		s += fmt.Sprintf(" request=%s raw=%q", c.Request.ID, c.Request.Raw)
	}
	return s
}

// ErrorSink receives errors raised inside the background loops. Handle must
// not block for long; it runs on the loop goroutine.
type ErrorSink interface {
	Handle(err error, ctx ErrorContext)
}

// SinkFunc adapts a function to ErrorSink.
type SinkFunc func(err error, ctx ErrorContext)

func (f SinkFunc) Handle(err error, ctx ErrorContext) { f(err, ctx) }

// LogSink writes errors at ERROR level.
type LogSink struct {
	Logger *logging.Logger
}

func (s LogSink) Handle(err error, ctx ErrorContext) {
	s.Logger.Errorf("%s error=%v", ctx, err)
}
