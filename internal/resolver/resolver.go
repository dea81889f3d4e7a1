// Package resolver binds tokenized input to a command in the descriptor
// hierarchy.
package resolver

import (
	"slices"
	"strings"

	"github.com/msageha/termcmd/internal/descriptor"
	apperrors "github.com/msageha/termcmd/internal/errors"
	"github.com/msageha/termcmd/internal/model"
	"github.com/msageha/termcmd/internal/text"
)

// Resolver walks tokens against a descriptor store. It holds no per-call
// state and is safe for concurrent use.
type Resolver struct {
	store        descriptor.Store
	equal        model.EqualFunc
	optionPrefix string
	aliasPrefix  string
}

// New creates a resolver. The prefixes must match the tokenizer's, and h
// should be the handler the store was built with; owner ids, option ids and
// aliases are compared through it.
func New(store descriptor.Store, cfg model.TokenizerConfig, h *text.Handler) *Resolver {
	if h == nil {
		h = text.Default()
	}
	return &Resolver{
		store:        store,
		equal:        h.Equal,
		optionPrefix: cfg.OptionPrefix,
		aliasPrefix:  cfg.OptionAliasPrefix,
	}
}

type tokenKind int

const (
	tokenCommand tokenKind = iota
	tokenArgument
)

// classify looks the token up as a command id first and only treats it as an
// argument on a miss.
func (r *Resolver) classify(token string) (tokenKind, *model.CommandDescriptor) {
	if d, ok := r.store.FindByID(token); ok {
		return tokenCommand, d
	}
	return tokenArgument, nil
}

// Resolve binds parsed to a command. The hierarchy of the result lists the
// ancestors of the resolved command, root first.
func (r *Resolver) Resolve(req model.Request, parsed model.ParsedRequest) (*model.ParsedCommand, error) {
	var (
		current   *model.CommandDescriptor
		hierarchy []*model.CommandDescriptor
		args      []model.Argument
	)

	for _, token := range parsed.Tokens {
		kind, d := r.classify(token)
		switch kind {
		case tokenCommand:
			if len(args) > 0 {
				return nil, apperrors.New(apperrors.CodeInvalidArgument,
					"the command found in arguments. command=%s", d.ID)
			}
			if current == nil {
				if !d.IsRoot() {
					return nil, apperrors.New(apperrors.CodeMissingCommand,
						"the command is not a root command and requires an owner. command=%s", d.ID)
				}
			} else {
				if !d.IsOwnedBy(current.ID, r.equal) {
					return nil, apperrors.New(apperrors.CodeInvalidCommand,
						"the command owner is not valid. command=%s owner=%s", d.ID, current.ID)
				}
				hierarchy = append(hierarchy, current)
			}
			current = d

		case tokenArgument:
			if current == nil {
				return nil, apperrors.New(apperrors.CodeMissingCommand,
					"the root command is not found. token=%s", token)
			}
			if len(current.Arguments) == 0 {
				return nil, apperrors.New(apperrors.CodeUnsupportedArgument,
					"the command does not support arguments. command=%s", current.ID)
			}
			if len(args) >= len(current.Arguments) {
				return nil, apperrors.New(apperrors.CodeUnsupportedArgument,
					"the command does not support %d arguments. command=%s", len(args)+1, current.ID)
			}
			args = append(args, model.Argument{
				Descriptor: &current.Arguments[len(args)],
				Value:      token,
			})
		}
	}

	if current == nil {
		return nil, apperrors.New(apperrors.CodeMissingCommand, "the command is missing in the request. request=%s", req.ID)
	}

	for i := len(args); i < len(current.Arguments); i++ {
		if current.Arguments[i].Required {
			return nil, apperrors.New(apperrors.CodeInvalidArgument,
				"the required argument is missing. command=%s argument=%s", current.ID, current.Arguments[i].ID)
		}
	}

	options, err := r.bindOptions(current, parsed.Options)
	if err != nil {
		return nil, err
	}

	return &model.ParsedCommand{
		Request: req,
		Command: &model.Command{
			Descriptor: current,
			Arguments:  args,
			Options:    options,
		},
		Hierarchy: hierarchy,
	}, nil
}

// bindOptions visits raw keys in sorted order so the reported error does not
// depend on map iteration.
func (r *Resolver) bindOptions(cmd *model.CommandDescriptor, raw map[string]string) (map[string]model.Option, error) {
	if len(raw) > 0 && len(cmd.Options) == 0 {
		return nil, apperrors.New(apperrors.CodeUnsupportedOption,
			"the command does not support options. command=%s", cmd.ID)
	}

	bound := make(map[string]model.Option, len(raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, key := range keys {
		value := raw[key]
		o, err := r.lookupOption(cmd, key)
		if err != nil {
			return nil, err
		}
		if _, dup := bound[o.ID]; dup {
			return nil, apperrors.New(apperrors.CodeInvalidOption,
				"the option is specified more than once. command=%s option=%s", cmd.ID, o.ID)
		}
		bound[o.ID] = model.Option{Descriptor: o, Value: value}
	}

	for i := range cmd.Options {
		o := &cmd.Options[i]
		if _, ok := bound[o.ID]; o.Required && !ok {
			return nil, apperrors.New(apperrors.CodeInvalidOption,
				"the required option is missing. command=%s option=%s", cmd.ID, o.ID)
		}
	}
	return bound, nil
}

// lookupOption resolves a raw key. An option-prefixed key must name an option
// id and an alias-prefixed key must name an alias. The longer prefix is tried
// first since one prefix is usually a prefix of the other.
func (r *Resolver) lookupOption(cmd *model.CommandDescriptor, key string) (*model.OptionDescriptor, error) {
	byAlias := false
	name := ""
	first, second := r.optionPrefix, r.aliasPrefix
	if len(second) > len(first) {
		first, second = second, first
	}
	switch {
	case strings.HasPrefix(key, first):
		name = key[len(first):]
		byAlias = first == r.aliasPrefix && first != r.optionPrefix
	case strings.HasPrefix(key, second):
		name = key[len(second):]
		byAlias = second == r.aliasPrefix && second != r.optionPrefix
	default:
		return nil, apperrors.New(apperrors.CodeInvalidOption,
			"the option prefix is not valid. command=%s option=%s", cmd.ID, key)
	}

	if byAlias {
		if o, ok := cmd.OptionByAlias(name, r.equal); ok {
			return o, nil
		}
		if _, ok := cmd.OptionByID(name, r.equal); ok {
			return nil, apperrors.New(apperrors.CodeInvalidOption,
				"the option id must be used with the option prefix. command=%s option=%s prefix=%s", cmd.ID, name, r.optionPrefix)
		}
	} else {
		if o, ok := cmd.OptionByID(name, r.equal); ok {
			return o, nil
		}
		if _, ok := cmd.OptionByAlias(name, r.equal); ok {
			return nil, apperrors.New(apperrors.CodeInvalidOption,
				"the option alias must be used with the alias prefix. command=%s option=%s prefix=%s", cmd.ID, name, r.aliasPrefix)
		}
	}
	return nil, apperrors.New(apperrors.CodeUnsupportedOption,
		"the option is not supported. command=%s option=%s", cmd.ID, key)
}
