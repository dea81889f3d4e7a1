// Package router turns a request into a command execution: tokenize, resolve
// against the descriptor store, then hand the bound command to a runner.
package router

import (
	"context"

	apperrors "github.com/msageha/termcmd/internal/errors"
	"github.com/msageha/termcmd/internal/model"
	"github.com/msageha/termcmd/internal/resolver"
	"github.com/msageha/termcmd/internal/tokenizer"
)

// CommandRouter implements the processor's Router interface.
type CommandRouter struct {
	tokenizer *tokenizer.Tokenizer
	resolver  *resolver.Resolver
	registry  *Registry
	fallback  Runner
}

// Option configures a CommandRouter.
type Option func(*CommandRouter)

// WithFallback sets the runner used for commands without a registered one.
func WithFallback(r Runner) Option {
	return func(cr *CommandRouter) { cr.fallback = r }
}

func New(tk *tokenizer.Tokenizer, rs *resolver.Resolver, registry *Registry, opts ...Option) *CommandRouter {
	if registry == nil {
		registry = NewRegistry()
	}
	cr := &CommandRouter{
		tokenizer: tk,
		resolver:  rs,
		registry:  registry,
	}
	for _, opt := range opts {
		opt(cr)
	}
	return cr
}

func (cr *CommandRouter) Registry() *Registry { return cr.registry }

// Parse tokenizes and resolves req without running it.
func (cr *CommandRouter) Parse(req model.Request) (*model.ParsedCommand, error) {
	parsed, err := cr.tokenizer.Tokenize(req.Raw)
	if err != nil {
		return nil, err
	}
	return cr.resolver.Resolve(req, parsed)
}

func (cr *CommandRouter) Route(ctx context.Context, req model.Request) (any, error) {
	cmd, err := cr.Parse(req)
	if err != nil {
		return nil, err
	}

	runner := cr.registry.Get(cmd.Command.Descriptor.ID)
	if runner == nil {
		runner = cr.fallback
	}
	if runner == nil {
		return nil, apperrors.New(apperrors.CodeServerError,
			"no runner is registered for the command. command=%s", cmd.Command.Descriptor.ID)
	}
	return runner.Run(ctx, cmd)
}
