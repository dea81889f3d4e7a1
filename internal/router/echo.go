package router

import (
	"context"

	"github.com/msageha/termcmd/internal/model"
)

// Echo describes a resolved command. It is what EchoRunner returns.
type Echo struct {
	RequestID string            `json:"request_id" yaml:"request_id"`
	Command   string            `json:"command" yaml:"command"`
	Path      []string          `json:"path" yaml:"path"`
	Arguments map[string]string `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Options   map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
	Flags     []string          `json:"flags,omitempty" yaml:"flags,omitempty"`
}

// EchoRunner reports the bound command back to the caller instead of
// executing anything.
type EchoRunner struct{}

func (EchoRunner) Run(_ context.Context, cmd *model.ParsedCommand) (any, error) {
	d := cmd.Command.Descriptor
	echo := Echo{
		RequestID: cmd.Request.ID,
		Command:   d.ID,
		Path:      cmd.Path(),
		Flags:     d.Flags,
	}
	if len(cmd.Command.Arguments) > 0 {
		echo.Arguments = make(map[string]string, len(cmd.Command.Arguments))
		for _, a := range cmd.Command.Arguments {
			echo.Arguments[a.Descriptor.ID] = a.Value
		}
	}
	if len(cmd.Command.Options) > 0 {
		echo.Options = make(map[string]string, len(cmd.Command.Options))
		for id, o := range cmd.Command.Options {
			echo.Options[id] = o.Value
		}
	}
	return echo, nil
}
