package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/termcmd/internal/descriptor"
	apperrors "github.com/msageha/termcmd/internal/errors"
	"github.com/msageha/termcmd/internal/model"
	"github.com/msageha/termcmd/internal/resolver"
	"github.com/msageha/termcmd/internal/tokenizer"
)

func newRouter(t *testing.T, opts ...Option) *CommandRouter {
	t.Helper()
	store := descriptor.NewMemoryStore(nil)
	require.NoError(t, store.Replace([]model.CommandDescriptor{
		{ID: "root1", Type: model.CommandTypeRoot},
		{
			ID:        "grp1",
			Type:      model.CommandTypeGroup,
			OwnerIDs:  []string{"root1"},
			Flags:     []string{"hidden"},
			Arguments: []model.ArgumentDescriptor{{ID: "first"}, {ID: "second"}},
			Options:   []model.OptionDescriptor{{ID: "verbose", Alias: "v"}},
		},
	}))

	cfg := model.DefaultConfig().Tokenizer
	tk, err := tokenizer.New(cfg)
	require.NoError(t, err)
	return New(tk, resolver.New(store, cfg, nil), nil, opts...)
}

func TestRoute_RegisteredRunner(t *testing.T) {
	cr := newRouter(t)
	var got *model.ParsedCommand
	cr.Registry().Register("grp1", RunnerFunc(func(_ context.Context, cmd *model.ParsedCommand) (any, error) {
		got = cmd
		return "ran", nil
	}))

	v, err := cr.Route(context.Background(), model.Request{ID: "r1", Raw: "root1 grp1 a b"})
	require.NoError(t, err)
	assert.Equal(t, "ran", v)
	require.NotNil(t, got)
	assert.Equal(t, []string{"root1", "grp1"}, got.Path())
	assert.Equal(t, "r1", got.Request.ID)
}

func TestRoute_NoRunner(t *testing.T) {
	cr := newRouter(t)
	_, err := cr.Route(context.Background(), model.Request{ID: "r1", Raw: "root1"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeServerError))
}

func TestRoute_ResolveErrorPropagates(t *testing.T) {
	cr := newRouter(t, WithFallback(EchoRunner{}))
	_, err := cr.Route(context.Background(), model.Request{ID: "r1", Raw: "grp1"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeMissingCommand))

	_, err = cr.Route(context.Background(), model.Request{ID: "r1", Raw: `root1 "open`})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidArgument))
}

func TestEchoRunner(t *testing.T) {
	cr := newRouter(t, WithFallback(EchoRunner{}))

	v, err := cr.Route(context.Background(), model.Request{ID: "r2", Raw: `root1 grp1 "a b" c -v`})
	require.NoError(t, err)
	echo, ok := v.(Echo)
	require.True(t, ok)
	assert.Equal(t, Echo{
		RequestID: "r2",
		Command:   "grp1",
		Path:      []string{"root1", "grp1"},
		Arguments: map[string]string{"first": "a b", "second": "c"},
		Options:   map[string]string{"verbose": "true"},
		Flags:     []string{"hidden"},
	}, echo)

	v, err = cr.Route(context.Background(), model.Request{ID: "r3", Raw: "root1"})
	require.NoError(t, err)
	echo = v.(Echo)
	assert.Nil(t, echo.Arguments)
	assert.Nil(t, echo.Options)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := RunnerFunc(func(context.Context, *model.ParsedCommand) (any, error) { return nil, nil })

	r.Register("b", noop)
	r.Register("a", noop)
	assert.Equal(t, []string{"a", "b"}, r.List())
	assert.Equal(t, 2, r.Count())
	assert.True(t, r.Has("a"))

	r.Unregister("a")
	assert.False(t, r.Has("a"))
	assert.Nil(t, r.Get("a"))
	assert.Equal(t, 1, r.Count())
}
