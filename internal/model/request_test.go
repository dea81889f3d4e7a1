package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/msageha/termcmd/internal/errors"
)

func TestNewEnvelope_Single(t *testing.T) {
	env, err := NewEnvelope("", Sender{ID: "s1", Endpoint: "127.0.0.1:9"}, Request{ID: "r1", Raw: "cmd"})
	require.NoError(t, err)
	assert.Equal(t, 1, env.Len())
	assert.Len(t, env.Results, 1)
	assert.Nil(t, env.Results[0])
	assert.False(t, env.Complete())
	assert.Equal(t, Sender{ID: "s1", Endpoint: "127.0.0.1:9"}, env.Sender())
	assert.Equal(t, Receipt{RequestIDs: []string{"r1"}}, env.Receipt())
}

func TestNewEnvelope_BatchRequiresID(t *testing.T) {
	_, err := NewEnvelope("", Sender{}, Request{ID: "r1"}, Request{ID: "r2"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidRequest))

	env, err := NewEnvelope("b1", Sender{}, Request{ID: "r1"}, Request{ID: "r2"})
	require.NoError(t, err)
	assert.Equal(t, "batch=b1 requests=2", env.String())
}

func TestNewEnvelope_Empty(t *testing.T) {
	_, err := NewEnvelope("", Sender{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidRequest))
}

func TestEnvelopeValidate_OutOfSync(t *testing.T) {
	env := &Envelope{Requests: []Request{{ID: "r1"}}, Results: nil}
	assert.True(t, apperrors.IsCode(env.Validate(), apperrors.CodeInvalidRequest))
}

func TestRequestEqual(t *testing.T) {
	a := Request{ID: "r1", Raw: "one"}
	b := Request{ID: "r1", Raw: "two"}
	c := Request{ID: "r2", Raw: "one"}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestNewResult(t *testing.T) {
	ok := NewResult("r1", "value", nil, 0)
	assert.False(t, ok.Failed())
	assert.Empty(t, ok.ErrorCode)

	failed := NewResult("r2", nil, apperrors.New(apperrors.CodeRequestTimeout, "timed out"), 0)
	assert.True(t, failed.Failed())
	assert.Equal(t, "REQUEST_TIMEOUT", failed.ErrorCode)

	plain := NewResult("r3", nil, errors.New("boom"), 0)
	assert.Equal(t, "UNKNOWN", plain.ErrorCode)
	assert.Equal(t, "boom", plain.Error)

	var none *Result
	assert.False(t, none.Failed())
}

func TestCommandDescriptor_Helpers(t *testing.T) {
	d := &CommandDescriptor{
		ID:       "cmd1",
		Type:     CommandTypeSubCommand,
		Flags:    []string{"Hidden"},
		OwnerIDs: []string{"grp1", "grp2"},
		Options: []OptionDescriptor{
			{ID: "verbose", Alias: "v"},
			{ID: "output"},
		},
	}

	assert.False(t, d.IsRoot())
	assert.True(t, d.IsOwnedBy("grp2", nil))
	assert.False(t, d.IsOwnedBy("root1", nil))
	assert.True(t, d.HasFlag("hidden"))

	o, ok := d.OptionByID("verbose", nil)
	require.True(t, ok)
	assert.Equal(t, "v", o.Alias)

	o, ok = d.OptionByAlias("v", nil)
	require.True(t, ok)
	assert.Equal(t, "verbose", o.ID)

	_, ok = d.OptionByAlias("", nil)
	assert.False(t, ok)
	_, ok = d.OptionByID("missing", nil)
	assert.False(t, ok)

	fold := EqualFunc(strings.EqualFold)
	assert.False(t, d.IsOwnedBy("GRP1", nil))
	assert.True(t, d.IsOwnedBy("GRP1", fold))
	_, ok = d.OptionByID("Verbose", fold)
	assert.True(t, ok)
	_, ok = d.OptionByAlias("V", fold)
	assert.True(t, ok)

	assert.True(t, CommandTypeGroup.Valid())
	assert.False(t, CommandType("other").Valid())
}

func TestParsedCommand_Path(t *testing.T) {
	root := &CommandDescriptor{ID: "root1"}
	grp := &CommandDescriptor{ID: "grp1"}
	cmd := &CommandDescriptor{ID: "cmd1"}
	pc := &ParsedCommand{
		Command:   &Command{Descriptor: cmd},
		Hierarchy: []*CommandDescriptor{root, grp},
	}
	assert.Equal(t, []string{"root1", "grp1", "cmd1"}, pc.Path())
}
