package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/termcmd/internal/descriptor"
	apperrors "github.com/msageha/termcmd/internal/errors"
	"github.com/msageha/termcmd/internal/model"
	"github.com/msageha/termcmd/internal/text"
	"github.com/msageha/termcmd/internal/tokenizer"
)

func testDescriptors() []model.CommandDescriptor {
	return []model.CommandDescriptor{
		{ID: "root1", Type: model.CommandTypeRoot},
		{ID: "root2", Type: model.CommandTypeRoot, Options: []model.OptionDescriptor{{ID: "force", Required: true}}},
		{
			ID:       "grp1",
			Type:     model.CommandTypeGroup,
			OwnerIDs: []string{"root1"},
			Arguments: []model.ArgumentDescriptor{
				{ID: "arg1"},
				{ID: "arg2"},
			},
		},
		{ID: "grp2", Type: model.CommandTypeGroup, OwnerIDs: []string{"root1"}},
		{
			ID:        "cmd1",
			Type:      model.CommandTypeSubCommand,
			OwnerIDs:  []string{"grp1", "grp2"},
			Arguments: []model.ArgumentDescriptor{{ID: "target", Required: true}},
			Options: []model.OptionDescriptor{
				{ID: "opt1", Alias: "o1"},
				{ID: "verbose", Alias: "v"},
				{ID: "output"},
			},
		},
	}
}

type harness struct {
	tokenizer *tokenizer.Tokenizer
	resolver  *Resolver
}

func newHarness(t *testing.T) harness {
	t.Helper()
	store := descriptor.NewMemoryStore(nil)
	require.NoError(t, store.Replace(testDescriptors()))

	cfg := model.DefaultConfig().Tokenizer
	tk, err := tokenizer.New(cfg)
	require.NoError(t, err)
	return harness{tokenizer: tk, resolver: New(store, cfg, nil)}
}

func (h harness) resolve(t *testing.T, raw string) (*model.ParsedCommand, error) {
	t.Helper()
	parsed, err := h.tokenizer.Tokenize(raw)
	require.NoError(t, err)
	return h.resolver.Resolve(model.Request{ID: "req_test", Raw: raw}, parsed)
}

func TestResolve_GroupWithArguments(t *testing.T) {
	h := newHarness(t)

	pc, err := h.resolve(t, "root1 grp1 arg1 arg2")
	require.NoError(t, err)

	assert.Equal(t, "grp1", pc.Command.Descriptor.ID)
	require.Len(t, pc.Command.Arguments, 2)
	assert.Equal(t, "arg1", pc.Command.Arguments[0].Value)
	assert.Equal(t, "arg1", pc.Command.Arguments[0].Descriptor.ID)
	assert.Equal(t, "arg2", pc.Command.Arguments[1].Value)
	assert.Empty(t, pc.Command.Options)
	require.Len(t, pc.Hierarchy, 1)
	assert.Equal(t, "root1", pc.Hierarchy[0].ID)
	assert.Equal(t, "req_test", pc.Request.ID)
}

func TestResolve_SubCommandWithOptions(t *testing.T) {
	h := newHarness(t)

	pc, err := h.resolve(t, "root1 grp2 cmd1 file.txt --opt1 val1 -v --output out.log")
	require.NoError(t, err)

	assert.Equal(t, []string{"root1", "grp2", "cmd1"}, pc.Path())
	v, ok := pc.Command.Argument("target")
	require.True(t, ok)
	assert.Equal(t, "file.txt", v)

	v, ok = pc.Command.Option("opt1")
	require.True(t, ok)
	assert.Equal(t, "val1", v)

	v, ok = pc.Command.Option("verbose")
	require.True(t, ok)
	assert.Equal(t, tokenizer.TrueValue, v)

	v, ok = pc.Command.Option("output")
	require.True(t, ok)
	assert.Equal(t, "out.log", v)
}

func TestResolve_RootOnly(t *testing.T) {
	h := newHarness(t)
	pc, err := h.resolve(t, "root1")
	require.NoError(t, err)
	assert.Equal(t, "root1", pc.Command.Descriptor.ID)
	assert.Empty(t, pc.Hierarchy)
}

func TestResolve_Errors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name    string
		raw     string
		code    apperrors.Code
		message string
	}{
		{"owner not valid for repeated command", "root1 grp1 cmd1 cmd1", apperrors.CodeInvalidCommand, "owner is not valid"},
		{"owner not valid", "root1 cmd1", apperrors.CodeInvalidCommand, "owner is not valid"},
		{"command after arguments", "root1 grp1 arg1 grp2", apperrors.CodeInvalidArgument, "command found in arguments"},
		{"non-root first", "grp1 arg1", apperrors.CodeMissingCommand, "not a root command"},
		{"unknown first token", "nope", apperrors.CodeMissingCommand, "root command is not found"},
		{"empty tokens", "--opt1 x", apperrors.CodeMissingCommand, "command is missing"},
		{"no arguments declared", "root1 extra", apperrors.CodeUnsupportedArgument, "does not support arguments"},
		{"too many arguments", "root1 grp1 a b c", apperrors.CodeUnsupportedArgument, "does not support 3 arguments"},
		{"missing required argument", "root1 grp1 cmd1", apperrors.CodeInvalidArgument, "required argument is missing"},
		{"options on command without options", "root1 --x", apperrors.CodeUnsupportedOption, "does not support options"},
		{"unknown option", "root1 grp1 cmd1 t --nope", apperrors.CodeUnsupportedOption, "not supported"},
		{"unknown alias", "root1 grp1 cmd1 t -z", apperrors.CodeUnsupportedOption, "not supported"},
		{"alias with id prefix", "root1 grp1 cmd1 t --o1 x", apperrors.CodeInvalidOption, "alias must be used with the alias prefix"},
		{"id with alias prefix", "root1 grp1 cmd1 t -opt1 x", apperrors.CodeInvalidOption, "id must be used with the option prefix"},
		{"id and alias together", "root1 grp1 cmd1 t --opt1 a -o1 b", apperrors.CodeInvalidOption, "more than once"},
		{"required option missing", "root2", apperrors.CodeInvalidOption, "required option is missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.resolve(t, tt.raw)
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, tt.code), "got %v", err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestResolve_RequiredOptionPresent(t *testing.T) {
	h := newHarness(t)
	pc, err := h.resolve(t, "root2 --force")
	require.NoError(t, err)
	v, _ := pc.Command.Option("force")
	assert.Equal(t, tokenizer.TrueValue, v)
}

func TestResolve_CustomPrefixes(t *testing.T) {
	store := descriptor.NewMemoryStore(nil)
	require.NoError(t, store.Replace(testDescriptors()))

	cfg := model.TokenizerConfig{
		Separator:            " ",
		OptionPrefix:         "/",
		OptionAliasPrefix:    "//",
		OptionValueSeparator: "=",
	}
	tk, err := tokenizer.New(cfg)
	require.NoError(t, err)
	r := New(store, cfg, nil)

	parsed, err := tk.Tokenize("root1 grp1 cmd1 t //o1=a /verbose")
	require.NoError(t, err)
	pc, err := r.Resolve(model.Request{ID: "r"}, parsed)
	require.NoError(t, err)

	v, _ := pc.Command.Option("opt1")
	assert.Equal(t, "a", v)
	v, _ = pc.Command.Option("verbose")
	assert.Equal(t, "true", v)
}

func TestResolve_CaseInsensitiveOwnersAndOptions(t *testing.T) {
	h, err := text.NewHandler(model.TextConfig{Encoding: "utf-8", CaseSensitive: false})
	require.NoError(t, err)

	store := descriptor.NewMemoryStore(h)
	require.NoError(t, store.Replace([]model.CommandDescriptor{
		{ID: "root1", Type: model.CommandTypeRoot},
		{
			ID:       "grp1",
			Type:     model.CommandTypeGroup,
			OwnerIDs: []string{"ROOT1"},
			Options:  []model.OptionDescriptor{{ID: "Verbose", Alias: "V"}, {ID: "level"}},
		},
	}))

	cfg := model.DefaultConfig().Tokenizer
	tk, err := tokenizer.New(cfg)
	require.NoError(t, err)
	r := New(store, cfg, h)

	for _, raw := range []string{"root1 grp1", "Root1 GRP1 --verbose", "root1 grp1 -v --LEVEL 3"} {
		t.Run(raw, func(t *testing.T) {
			parsed, err := tk.Tokenize(raw)
			require.NoError(t, err)
			pc, err := r.Resolve(model.Request{ID: "r"}, parsed)
			require.NoError(t, err)
			assert.Equal(t, "grp1", pc.Command.Descriptor.ID)
			require.Len(t, pc.Hierarchy, 1)
			assert.Equal(t, "root1", pc.Hierarchy[0].ID)
		})
	}
}

func TestResolve_CaseSensitiveOwnerMismatch(t *testing.T) {
	store := descriptor.NewMemoryStore(nil)
	require.NoError(t, store.Replace([]model.CommandDescriptor{
		{ID: "root1", Type: model.CommandTypeRoot},
		{ID: "ROOT1", Type: model.CommandTypeRoot},
		{ID: "grp1", Type: model.CommandTypeGroup, OwnerIDs: []string{"ROOT1"}},
	}))
	cfg := model.DefaultConfig().Tokenizer
	tk, err := tokenizer.New(cfg)
	require.NoError(t, err)

	parsed, err := tk.Tokenize("root1 grp1")
	require.NoError(t, err)
	_, err = New(store, cfg, nil).Resolve(model.Request{ID: "r"}, parsed)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidCommand), "got %v", err)
}

func TestResolve_OptionErrorsAreStable(t *testing.T) {
	h := newHarness(t)

	// "--nope" sorts before "-opt1", so the unsupported option is reported.
	for i := 0; i < 20; i++ {
		_, err := h.resolve(t, "root1 grp1 cmd1 t -opt1 x --nope")
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeUnsupportedOption), "got %v", err)
	}
}
